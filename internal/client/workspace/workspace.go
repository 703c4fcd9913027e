package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/treesync/internal/utils"
)

// Files kept at the sync root. All of them are hidden, so the scanner never
// uploads them.
const (
	StateFileName   = ".treesync_state"
	JournalFileName = ".treesync_state.db"
	LockFileName    = ".treesync.lock"
)

var (
	ErrWorkspaceLocked = errors.New("sync root locked by another process")
)

// Workspace is a sync root and the bookkeeping files inside it.
type Workspace struct {
	Root        string
	StatePath   string
	JournalPath string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	return &Workspace{
		Root:        root,
		StatePath:   filepath.Join(root, StateFileName),
		JournalPath: filepath.Join(root, JournalFileName),
		flock:       flock.New(filepath.Join(root, LockFileName)),
	}, nil
}

// StateFiles lists the names the scanner must skip.
func (w *Workspace) StateFiles() []string {
	return []string{StateFileName, JournalFileName, LockFileName}
}

// Setup creates the root if needed and takes the lock.
func (w *Workspace) Setup() error {
	if info, err := os.Stat(w.Root); err == nil && !info.IsDir() {
		return fmt.Errorf("sync root %s is not a directory", w.Root)
	}

	if !utils.DirExists(w.Root) {
		slog.Info("creating sync root", "root", w.Root)
	}
	if err := utils.EnsureDir(w.Root); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.Root, err)
	}

	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)
	return nil
}

func (w *Workspace) Lock() error {
	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// only the holder removes the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	if err := os.Remove(w.flock.Path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
