package sync

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openmined/treesync/internal/remote"
	"github.com/spf13/afero"
)

// deleteLocal propagates a remote deletion: the local file and its record
// go, then empty parent directories.
func (e *Engine) deleteLocal(state *SyncState, report *Report, rel string) {
	rec, _ := state.Get(rel)

	if e.keepModified {
		if mtime, exists := e.localMtime(rel); exists && rec.LocalChanged(mtime) {
			state.Delete(rel)
			e.observer.OnAction(Action{Op: OpSkipped, Path: rel, Reason: ReasonKeptModified})
			slog.Info("sync", "op", OpSkipped, "path", rel, "reason", ReasonKeptModified)
			return
		}
	}

	e.observer.OnAction(Action{Op: OpDeleteLocal, Path: rel, Reason: ReasonRemoteDeleted})
	if err := e.fs.Remove(e.localPath(rel)); err != nil && !isNotExist(err) {
		report.failed()
		err = &TransferError{Op: OpDeleteLocal, Path: rel, Err: err}
		slog.Warn("sync", "op", OpDeleteLocal, "path", rel, "error", err)
		e.observer.OnAction(Action{Op: OpDeleteLocal, Path: rel, Err: err})
		return
	}

	state.Delete(rel)
	report.count(OpDeleteLocal, false)
	slog.Info("sync", "op", OpDeleteLocal, "path", rel, "reason", ReasonRemoteDeleted)

	e.cleanupEmptyParentDirs(report, remote.Parent(rel))
}

// deleteRemote propagates a local deletion. On failure the record stays so
// the next run retries.
func (e *Engine) deleteRemote(ctx context.Context, state *SyncState, report *Report, rel string) {
	e.observer.OnAction(Action{Op: OpDeleteRemote, Path: rel, Reason: ReasonLocalDeleted})

	err := e.store.Delete(ctx, rel)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		report.failed()
		err = &TransferError{Op: OpDeleteRemote, Path: rel, Err: err}
		slog.Warn("sync", "op", OpDeleteRemote, "path", rel, "error", err)
		e.observer.OnAction(Action{Op: OpDeleteRemote, Path: rel, Err: err})
		return
	}

	state.Delete(rel)
	report.count(OpDeleteRemote, false)
	slog.Info("sync", "op", OpDeleteRemote, "path", rel, "reason", ReasonLocalDeleted)

	parent := remote.Parent(rel)
	e.cleanupEmptyParentDirs(report, parent)
	e.cleanupEmptyRemoteDirs(ctx, report, parent)
}

// cleanupEmptyParentDirs walks up from relDir removing empty local
// directories. It stops at the first non-empty one and never removes the
// sync root. .DS_Store files do not count as content.
func (e *Engine) cleanupEmptyParentDirs(report *Report, relDir string) {
	for dir := relDir; dir != ""; dir = remote.Parent(dir) {
		abs := e.localPath(dir)

		if info, err := e.fs.Stat(abs); err != nil || !info.IsDir() {
			break
		}

		entries, err := afero.ReadDir(e.fs, abs)
		if err != nil {
			slog.Warn("sync", "op", OpCleanup, "path", dir, "error", err)
			break
		}

		remaining := 0
		for _, entry := range entries {
			if entry.Name() == ".DS_Store" {
				_ = e.fs.Remove(filepath.Join(abs, entry.Name()))
			} else {
				remaining++
			}
		}
		if remaining > 0 {
			break
		}

		// Windows can hold handles briefly after a delete
		var rmErr error
		for attempt := 0; attempt < 3; attempt++ {
			if rmErr = e.fs.Remove(abs); rmErr == nil {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if rmErr != nil {
			slog.Warn("sync", "op", OpCleanup, "path", dir, "error", rmErr)
			break
		}

		report.count(OpCleanup, false)
		e.observer.OnAction(Action{Op: OpCleanup, Path: dir, Reason: ReasonFolderEmpty})
		slog.Info("sync", "op", OpCleanup, "path", dir, "reason", ReasonFolderEmpty)
	}
}

// cleanupEmptyRemoteDirs walks up from relDir deleting empty remote folders.
// A folder that is already gone counts as deleted; any other failure stops
// the walk.
func (e *Engine) cleanupEmptyRemoteDirs(ctx context.Context, report *Report, relDir string) {
	for dir := relDir; dir != ""; dir = remote.Parent(dir) {
		page, err := e.store.ListFolder(ctx, dir, false)
		if errors.Is(err, remote.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("sync", "op", OpCleanup, "path", dir, "remote", true, "error", err)
			return
		}
		if len(page.Entries) > 0 || page.HasMore {
			return
		}

		if err := e.store.Delete(ctx, dir); err != nil && !errors.Is(err, remote.ErrNotFound) {
			report.failed()
			slog.Warn("sync", "op", OpCleanup, "path", dir, "remote", true, "error", err)
			e.observer.OnAction(Action{Op: OpCleanup, Path: dir, Remote: true, Err: err})
			return
		}

		report.count(OpCleanup, true)
		e.observer.OnAction(Action{Op: OpCleanup, Path: dir, Reason: ReasonFolderEmpty, Remote: true})
		slog.Info("sync", "op", OpCleanup, "path", dir, "remote", true, "reason", ReasonFolderEmpty)
	}
}
