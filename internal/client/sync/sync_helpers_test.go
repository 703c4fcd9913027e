package sync

import (
	"os"
	"path/filepath"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type progressEvent struct {
	path  string
	sent  int64
	total int64
}

// recordingObserver keeps every event for assertions.
type recordingObserver struct {
	mu       gosync.Mutex
	actions  []Action
	progress []progressEvent
}

func (o *recordingObserver) OnAction(a Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions = append(o.actions, a)
}

func (o *recordingObserver) OnProgress(path string, sent, total int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, progressEvent{path, sent, total})
}

// paths returns the sorted paths of successful actions of the given op.
func (o *recordingObserver) paths(op OpType) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, a := range o.actions {
		if a.Op == op && a.Err == nil {
			out = append(out, a.Path)
		}
	}
	sort.Strings(out)
	return out
}

func (o *recordingObserver) failures() []Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Action
	for _, a := range o.actions {
		if a.Err != nil {
			out = append(out, a)
		}
	}
	return out
}

func writeLocal(t *testing.T, fsys afero.Fs, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
}

func readLocal(t *testing.T, fsys afero.Fs, root, rel string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func existsLocal(fsys afero.Fs, root, rel string) bool {
	ok, _ := afero.Exists(fsys, filepath.Join(root, filepath.FromSlash(rel)))
	return ok
}

// touchLocal moves the mtime of a local file forward, as an edit would.
func touchLocal(t *testing.T, fsys afero.Fs, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	info, err := fsys.Stat(path)
	require.NoError(t, err)
	later := info.ModTime().Add(time.Hour)
	require.NoError(t, fsys.Chtimes(path, later, later))
}

// listFiles returns every regular file under root as sorted slash paths.
func listFiles(t *testing.T, fsys afero.Fs, root string) []string {
	t.Helper()
	var out []string
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			rel, _ := filepath.Rel(root, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}
