package sync

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/treesync/internal/remote"
)

// RemotePass applies remote changes to the sync root. The listing is drained
// completely before anything is touched. It returns the paths the local pass
// must leave alone: unresolved conflicts and failed downloads, which are
// retried by the next run instead of being overwritten from the local side.
func (e *Engine) RemotePass(ctx context.Context, state *SyncState, report *Report) (mapset.Set[string], error) {
	blocked := mapset.NewSet[string]()
	if e.resolver == nil {
		e.resolver = NewConflictResolver(e.policy, e.decider)
	}

	listing, err := e.lister.ListAll(ctx)
	if err != nil {
		return blocked, err
	}
	slog.Info("sync remote listing", "pages", listing.Pages, "entries", len(listing.Entries))

	onRemote := mapset.NewThreadUnsafeSet[string]()
	var downloads []transferJob
	var conflicts []Conflict

	for _, entry := range listing.Entries {
		switch entry.Kind {
		case remote.EntryFolder:
			if !e.dirIncluded(entry.Path) {
				continue
			}
			e.ensureLocalDir(state, report, entry.Path)

		case remote.EntryFile:
			onRemote.Add(entry.Path)
			if !e.rules.Includes(entry.Path) {
				slog.Debug("sync", "op", OpSkipped, "path", entry.Path, "reason", "excluded locally")
				continue
			}

			rec, tracked := state.Get(entry.Path)
			switch {
			case !tracked:
				downloads = append(downloads, transferJob{path: entry.Path, reason: ReasonNotFoundLocally, size: entry.Size})
			case entry.Rev != rec.Rev:
				mtime, exists := e.localMtime(entry.Path)
				if exists && rec.LocalChanged(mtime) {
					conflicts = append(conflicts, Conflict{
						Path:        entry.Path,
						RecordedRev: rec.Rev,
						RemoteRev:   entry.Rev,
						SyncedMtime: rec.SyncedMtime,
						LocalMtime:  mtime,
					})
				} else {
					downloads = append(downloads, transferJob{path: entry.Path, reason: ReasonRemoteChanged, size: entry.Size})
				}
			}
		}
	}

	failed := e.runTransfers(ctx, state, report, OpWriteLocal, downloads)
	blocked.Append(failed.ToSlice()...)
	if err := ctx.Err(); err != nil {
		return blocked, err
	}

	if err := e.resolveConflicts(ctx, state, report, conflicts, blocked); err != nil {
		return blocked, err
	}

	for _, path := range state.Paths() {
		if onRemote.Contains(path) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return blocked, err
		}
		e.deleteLocal(state, report, path)
	}

	return blocked, nil
}

// resolveConflicts handles conflicts one at a time; each consumes exactly one
// decision (or the remembered one).
func (e *Engine) resolveConflicts(ctx context.Context, state *SyncState, report *Report, conflicts []Conflict, blocked mapset.Set[string]) error {
	for _, c := range conflicts {
		if err := ctx.Err(); err != nil {
			return err
		}

		report.count(OpConflict, false)
		e.observer.OnAction(Action{Op: OpConflict, Path: c.Path, Reason: ReasonBothChanged})
		slog.Info("sync", "op", OpConflict, "path", c.Path, "recordedRev", c.RecordedRev, "remoteRev", c.RemoteRev)

		resolution, err := e.resolver.Resolve(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			blocked.Add(c.Path)
			report.unresolved()
			slog.Warn("sync", "op", OpConflict, "path", c.Path, "error", err)
			e.observer.OnAction(Action{Op: OpConflict, Path: c.Path, Err: err})
			continue
		}

		var ok bool
		switch resolution {
		case KeepRemote:
			ok = e.transferOne(ctx, state, report, OpWriteLocal, transferJob{path: c.Path, reason: ReasonPreferRemote})
		case KeepLocal:
			ok = e.transferOne(ctx, state, report, OpWriteRemote, transferJob{path: c.Path, reason: ReasonPreferLocal})
		default:
			return fmt.Errorf("conflict %s: unexpected resolution %v", c.Path, resolution)
		}
		if !ok {
			// the record still predates both edits, keep the local pass off it
			blocked.Add(c.Path)
		}
	}
	return nil
}

// ensureLocalDir creates the local counterpart of a remote folder. A tracked
// file in the way is removed together with its record.
func (e *Engine) ensureLocalDir(state *SyncState, report *Report, rel string) {
	local := e.localPath(rel)

	info, err := e.fs.Stat(local)
	switch {
	case err == nil && info.IsDir():
		return
	case err == nil:
		if _, tracked := state.Get(rel); !tracked {
			report.failed()
			slog.Warn("sync", "op", OpMkdirLocal, "path", rel, "error", "untracked file in the way of remote folder")
			e.observer.OnAction(Action{Op: OpMkdirLocal, Path: rel, Err: fmt.Errorf("untracked file in the way of remote folder")})
			return
		}
		if err := e.fs.Remove(local); err != nil {
			report.failed()
			slog.Warn("sync", "op", OpMkdirLocal, "path", rel, "error", err)
			return
		}
		state.Delete(rel)
	case !isNotExist(err):
		report.failed()
		slog.Warn("sync", "op", OpMkdirLocal, "path", rel, "error", err)
		return
	}

	if err := e.fs.MkdirAll(local, 0o755); err != nil {
		report.failed()
		slog.Warn("sync", "op", OpMkdirLocal, "path", rel, "error", err)
		e.observer.OnAction(Action{Op: OpMkdirLocal, Path: rel, Err: err})
		return
	}

	report.count(OpMkdirLocal, false)
	e.observer.OnAction(Action{Op: OpMkdirLocal, Path: rel, Reason: ReasonRemoteFolder})
	slog.Info("sync", "op", OpMkdirLocal, "path", rel)
}

// dirIncluded reports whether neither rel nor any of its ancestors is an
// excluded directory.
func (e *Engine) dirIncluded(rel string) bool {
	for dir := rel; dir != ""; dir = remote.Parent(dir) {
		if e.rules.DirExcluded(dir) {
			return false
		}
	}
	return true
}
