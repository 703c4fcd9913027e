package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/openmined/treesync/internal/remote"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 4

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
)

// EngineConfig wires an Engine.
type EngineConfig struct {
	Fs         afero.Fs
	Root       string
	Store      remote.Store
	StateStore StateStore
	Rules      ScanRules
	Policy     ConflictPolicy
	Decider    Decider
	Observer   Observer
	Workers    int

	ChunkThreshold int64
	ChunkSize      int64

	// KeepModifiedOnRemoteDelete keeps a local file that was modified since
	// its last sync when the remote copy disappears. It is uploaded again by
	// the local pass.
	KeepModifiedOnRemoteDelete bool
}

// Engine reconciles the sync root with the remote store. One Run is a
// remote pass followed by a local pass, with the state saved after each.
type Engine struct {
	fs           afero.Fs
	root         string
	store        remote.Store
	states       StateStore
	rules        ScanRules
	scanner      *Scanner
	lister       *RemoteLister
	transfer     *TransferEngine
	policy       ConflictPolicy
	decider      Decider
	resolver     *ConflictResolver
	observer     Observer
	workers      int
	keepModified bool
	muSync       sync.Mutex
}

type transferJob struct {
	path   string
	reason string
	size   int64
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.StateStore == nil {
		return nil, ErrStateStoreRequired
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyPrompt
	}

	return &Engine{
		fs:           cfg.Fs,
		root:         cfg.Root,
		store:        cfg.Store,
		states:       cfg.StateStore,
		rules:        cfg.Rules,
		scanner:      NewScanner(cfg.Fs, cfg.Root, cfg.Rules),
		lister:       NewRemoteLister(cfg.Store),
		transfer:     NewTransferEngine(cfg.Fs, cfg.Root, cfg.Store, cfg.ChunkThreshold, cfg.ChunkSize, cfg.Observer),
		policy:       cfg.Policy,
		decider:      cfg.Decider,
		observer:     cfg.Observer,
		workers:      cfg.Workers,
		keepModified: cfg.KeepModifiedOnRemoteDelete,
	}, nil
}

// Run performs one full reconciliation: load state, remote pass, save,
// local pass, save. File level failures are counted in the report and do not
// fail the run. A listing or scan failure does.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	if ok, _ := afero.DirExists(e.fs, e.root); !ok {
		return nil, fmt.Errorf("sync root %s is not a directory", e.root)
	}

	report := newReport(uuid.NewString())
	tStart := time.Now()
	slog.Info("sync start", "run", report.RunID, "root", e.root)

	if n, err := e.transfer.CleanupTemp(e.rules.DirExcluded); err != nil {
		slog.Warn("sync", "op", OpCleanup, "error", err)
	} else if n > 0 {
		slog.Info("sync", "op", OpCleanup, "removed", n, "reason", "stale download temp files")
	}

	state, err := e.states.Load()
	if err != nil {
		slog.Warn("sync state unreadable, starting fresh", "error", err)
	}

	// "for all remaining" answers only last for this run
	e.resolver = NewConflictResolver(e.policy, e.decider)

	tRemote := time.Now()
	blocked, err := e.RemotePass(ctx, state, report)
	if serr := e.states.Save(state); serr != nil {
		return report, errors.Join(err, serr)
	}
	if err != nil {
		slog.Error("sync remote pass aborted", "run", report.RunID, "error", err)
		return report, err
	}
	slog.Debug("sync remote pass", "took", time.Since(tRemote))

	tLocal := time.Now()
	err = e.LocalPass(ctx, state, blocked, report)
	if serr := e.states.Save(state); serr != nil {
		return report, errors.Join(err, serr)
	}
	if err != nil {
		slog.Error("sync local pass aborted", "run", report.RunID, "error", err)
		return report, err
	}
	slog.Debug("sync local pass", "took", time.Since(tLocal))

	report.finish()
	slog.Info("sync done",
		"run", report.RunID,
		"downloaded", report.Downloaded,
		"uploaded", report.Uploaded,
		"deletedLocal", report.DeletedLocal,
		"deletedRemote", report.DeletedRemote,
		"conflicts", report.Conflicts,
		"unresolved", report.Unresolved,
		"failed", report.Failed,
		"took", time.Since(tStart),
	)
	return report, nil
}

func (e *Engine) localPath(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

// localMtime stats a tracked file. exists is false when there is no regular
// file at rel.
func (e *Engine) localMtime(rel string) (mtime time.Time, exists bool) {
	info, err := e.fs.Stat(e.localPath(rel))
	if err != nil || !info.Mode().IsRegular() {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// runTransfers executes independent transfers on up to e.workers goroutines
// and records each success in state. It returns the paths that failed.
func (e *Engine) runTransfers(ctx context.Context, state *SyncState, report *Report, op OpType, jobs []transferJob) mapset.Set[string] {
	failed := mapset.NewSet[string]()
	if len(jobs) == 0 {
		return failed
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, job := range jobs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if !e.transferOne(ctx, state, report, op, job) {
				failed.Add(job.path)
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (e *Engine) transferOne(ctx context.Context, state *SyncState, report *Report, op OpType, job transferJob) bool {
	e.observer.OnAction(Action{Op: op, Path: job.path, Reason: job.reason, Size: job.size})

	var rec SyncRecord
	var err error
	if op == OpWriteLocal {
		rec, err = e.transfer.Download(ctx, job.path)
	} else {
		rec, err = e.transfer.Upload(ctx, job.path)
	}
	if err != nil {
		report.failed()
		slog.Warn("sync", "op", op, "path", job.path, "error", err)
		e.observer.OnAction(Action{Op: op, Path: job.path, Err: err})
		return false
	}

	state.Set(job.path, rec)
	report.count(op, false)
	slog.Info("sync", "op", op, "path", job.path, "reason", job.reason, "rev", rec.Rev)
	return true
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
