package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceSetup_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Documents")

	w, err := NewWorkspace(root)
	require.NoError(t, err)
	require.NoError(t, w.Setup())
	t.Cleanup(func() { _ = w.Unlock() })

	assert.DirExists(t, root)
	assert.FileExists(t, filepath.Join(root, LockFileName))
	assert.Equal(t, filepath.Join(root, StateFileName), w.StatePath)
	assert.Equal(t, filepath.Join(root, JournalFileName), w.JournalPath)
}

func TestWorkspaceSetup_RootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	w, err := NewWorkspace(root)
	require.NoError(t, err)
	assert.Error(t, w.Setup())
}

func TestWorkspaceLocking_SingleInstance(t *testing.T) {
	root := t.TempDir()

	w1, err := NewWorkspace(root)
	require.NoError(t, err)
	w2, err := NewWorkspace(root)
	require.NoError(t, err)

	require.NoError(t, w1.Lock())
	assert.ErrorIs(t, w2.Lock(), ErrWorkspaceLocked)

	// a non-holder does not remove the lock
	require.NoError(t, w2.Unlock())
	assert.FileExists(t, filepath.Join(root, LockFileName))

	require.NoError(t, w1.Unlock())
	assert.NoFileExists(t, filepath.Join(root, LockFileName))

	require.NoError(t, w2.Lock())
	require.NoError(t, w2.Unlock())
}

func TestWorkspaceStateFilesAreHidden(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	for _, name := range w.StateFiles() {
		assert.Equal(t, byte('.'), name[0], name)
	}
}
