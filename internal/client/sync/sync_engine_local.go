package sync

import (
	"context"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
)

// LocalPass pushes local changes to the store: uploads of new and modified
// files first, then deletion of tracked files that are gone locally. Paths
// in blocked are skipped.
func (e *Engine) LocalPass(ctx context.Context, state *SyncState, blocked mapset.Set[string], report *Report) error {
	if blocked == nil {
		blocked = mapset.NewSet[string]()
	}

	candidates, err := e.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	slog.Info("sync local scan", "candidates", len(candidates))

	present := mapset.NewThreadUnsafeSetWithSize[string](len(candidates))
	var uploads []transferJob

	for _, c := range candidates {
		present.Add(c.Path)
		if blocked.Contains(c.Path) {
			continue
		}

		rec, tracked := state.Get(c.Path)
		switch {
		case !tracked:
			uploads = append(uploads, transferJob{path: c.Path, reason: ReasonNotFoundRemotely, size: c.Size})
		case rec.LocalChanged(c.ModTime):
			uploads = append(uploads, transferJob{path: c.Path, reason: ReasonLocalChanged, size: c.Size})
		}
	}

	e.runTransfers(ctx, state, report, OpWriteRemote, uploads)
	if err := ctx.Err(); err != nil {
		return err
	}

	// deletions are sequential, each cascade finishes before the next starts
	for _, path := range state.Paths() {
		if present.Contains(path) || blocked.Contains(path) {
			continue
		}
		if !e.rules.Includes(path) {
			slog.Debug("sync", "op", OpSkipped, "path", path, "reason", "excluded locally")
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e.deleteRemote(ctx, state, report, path)
	}

	return nil
}
