package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/treesync/internal/client/config"
	"github.com/openmined/treesync/internal/client/console"
	"github.com/openmined/treesync/internal/client/sync"
	"github.com/openmined/treesync/internal/client/workspace"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/utils"
	"github.com/spf13/afero"
)

// Client runs one synchronization of a sync root against a remote store.
type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
	store     remote.Store
	decider   sync.Decider
	reporter  *console.Reporter
}

// New builds the remote store from cfg. reporter may be nil.
func New(cfg *config.Config, decider sync.Decider, reporter *console.Reporter) (*Client, error) {
	store, err := remote.New(cfg.Remote())
	if err != nil {
		return nil, fmt.Errorf("failed to create remote store: %w", err)
	}
	return NewWithStore(cfg, store, decider, reporter)
}

// NewWithStore is New with an existing store.
func NewWithStore(cfg *config.Config, store remote.Store, decider sync.Decider, reporter *console.Reporter) (*Client, error) {
	ws, err := workspace.NewWorkspace(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Client{
		config:    cfg,
		workspace: ws,
		store:     store,
		decider:   decider,
		reporter:  reporter,
	}, nil
}

// Run locks the sync root, runs the engine once and releases the lock.
func (c *Client) Run(ctx context.Context) (report *sync.Report, err error) {
	slog.Info("treesync start", "root", c.workspace.Root, "backend", c.config.Backend, "policy", c.config.ConflictPolicy)
	slog.Debug("treesync credentials", "token", utils.MaskSecret(c.config.Token), "accessKey", utils.MaskSecret(c.config.AccessKey))

	if err := c.workspace.Setup(); err != nil {
		return nil, err
	}
	defer func() {
		if uerr := c.workspace.Unlock(); uerr != nil {
			slog.Warn("failed to unlock workspace", "error", uerr)
		}
	}()

	states, err := c.openStateStore()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, states.Close())
	}()

	fsys := afero.NewOsFs()
	ignore := sync.NewSyncIgnoreList(fsys, c.workspace.Root)
	ignore.Load()

	var observer sync.Observer
	if c.reporter != nil {
		observer = c.reporter
	}

	engine, err := sync.NewEngine(sync.EngineConfig{
		Fs:         fsys,
		Root:       c.workspace.Root,
		Store:      c.store,
		StateStore: states,
		Rules: sync.ScanRules{
			StateFiles:        c.workspace.StateFiles(),
			ReservedDirs:      c.config.ReservedDirs,
			GeneratedSuffixes: c.config.GeneratedSuffixes,
			Ignore:            ignore,
		},
		Policy:                     sync.ConflictPolicy(c.config.ConflictPolicy),
		Decider:                    c.decider,
		Observer:                   observer,
		Workers:                    c.config.Workers,
		ChunkThreshold:             c.config.ChunkThreshold,
		ChunkSize:                  c.config.ChunkSize,
		KeepModifiedOnRemoteDelete: c.config.KeepModifiedOnRemoteDelete,
	})
	if err != nil {
		return nil, err
	}

	if c.reporter != nil {
		c.reporter.Section(fmt.Sprintf("Synchronizing %s with %s", c.workspace.Root, c.config.Backend))
	}

	report, err = engine.Run(ctx)
	if c.reporter != nil {
		c.reporter.Summary(report)
	}
	return report, err
}

func (c *Client) openStateStore() (sync.StateStore, error) {
	switch c.config.StateBackend {
	case config.StateBackendSqlite:
		return sync.NewJournalStateStore(c.workspace.JournalPath)
	default:
		return sync.NewFileStateStore(afero.NewOsFs(), c.workspace.StatePath)
	}
}
