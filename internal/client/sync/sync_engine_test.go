package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/openmined/treesync/internal/remote/remotetest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoot      = "/sync"
	testStateFile = ".treesync_state"
)

type engineFixture struct {
	fs     afero.Fs
	store  *remotetest.MemStore
	states *FileStateStore
	obs    *recordingObserver
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(testRoot, 0o755))
	return &engineFixture{
		fs:     fsys,
		store:  remotetest.NewMemStore(),
		states: newTestFileStore(t, fsys, filepath.Join(testRoot, testStateFile)),
		obs:    &recordingObserver{},
	}
}

func (f *engineFixture) engine(t *testing.T, opts ...func(*EngineConfig)) *Engine {
	t.Helper()
	cfg := EngineConfig{
		Fs:         f.fs,
		Root:       testRoot,
		Store:      f.store,
		StateStore: f.states,
		Rules:      DefaultScanRules(testStateFile),
		Policy:     PolicyPrompt,
		Decider:    FailClosed{},
		Observer:   f.obs,
		Workers:    2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func (f *engineFixture) run(t *testing.T, opts ...func(*EngineConfig)) *Report {
	t.Helper()
	report, err := f.engine(t, opts...).Run(context.Background())
	require.NoError(t, err)
	return report
}

func (f *engineFixture) state(t *testing.T) *SyncState {
	t.Helper()
	state, err := f.states.Load()
	require.NoError(t, err)
	return state
}

// assertConverged checks that another run changes nothing on either side.
func (f *engineFixture) assertConverged(t *testing.T, opts ...func(*EngineConfig)) {
	t.Helper()
	f.store.ResetCalls()
	report := f.run(t, opts...)
	assert.Equal(t, 0, report.Transfers())
	assert.False(t, report.HasChanges())
	assert.Equal(t, 0, f.store.Transfers())
}

func withDecider(d Decider) func(*EngineConfig) {
	return func(c *EngineConfig) { c.Decider = d }
}

func TestEngineFirstSyncBothWays(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("r1.txt", []byte("remote one"))
	f.store.Put("dir/r2.txt", []byte("remote two"))
	f.store.Mkdir("emptyRemote")
	writeLocal(t, f.fs, testRoot, "l1.txt", "local one")
	writeLocal(t, f.fs, testRoot, "ldir/l2.txt", "local two")

	report := f.run(t)

	assert.Equal(t, 2, report.Downloaded)
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 2, report.FoldersCreated)
	assert.Equal(t, 0, report.Failed)
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, "remote one", readLocal(t, f.fs, testRoot, "r1.txt"))
	assert.Equal(t, "remote two", readLocal(t, f.fs, testRoot, "dir/r2.txt"))
	ok, _ := afero.DirExists(f.fs, filepath.Join(testRoot, "emptyRemote"))
	assert.True(t, ok)
	assert.Equal(t, []byte("local one"), f.store.Data("l1.txt"))
	assert.Equal(t, []byte("local two"), f.store.Data("ldir/l2.txt"))

	state := f.state(t)
	assert.Equal(t, []string{"dir/r2.txt", "l1.txt", "ldir/l2.txt", "r1.txt"}, state.Paths())
	for _, p := range state.Paths() {
		rec, _ := state.Get(p)
		assert.Equal(t, f.store.Rev(p), rec.Rev, p)
	}

	assert.Equal(t, []string{"dir/r2.txt", "r1.txt"}, f.obs.paths(OpWriteLocal))
	assert.Equal(t, []string{"l1.txt", "ldir/l2.txt"}, f.obs.paths(OpWriteRemote))

	f.assertConverged(t)
}

func TestEngineRemoteChangeDownloads(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("a.txt", []byte("v1"))
	f.run(t)

	f.store.Put("a.txt", []byte("v2"))
	report := f.run(t)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 0, report.Uploaded)
	assert.Equal(t, "v2", readLocal(t, f.fs, testRoot, "a.txt"))
	f.assertConverged(t)
}

func TestEngineLocalChangeUploads(t *testing.T) {
	f := newEngineFixture(t)
	writeLocal(t, f.fs, testRoot, "a.txt", "v1")
	f.run(t)

	writeLocal(t, f.fs, testRoot, "a.txt", "v2")
	touchLocal(t, f.fs, testRoot, "a.txt")
	report := f.run(t)

	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, []byte("v2"), f.store.Data("a.txt"))
	f.assertConverged(t)
}

func TestEngineLocalMissingRemoteChangedDownloads(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("a.txt", []byte("v1"))
	f.run(t)

	require.NoError(t, f.fs.Remove(filepath.Join(testRoot, "a.txt")))
	f.store.Put("a.txt", []byte("v2"))
	report := f.run(t)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 0, report.DeletedRemote)
	assert.Equal(t, "v2", readLocal(t, f.fs, testRoot, "a.txt"))
}

// makeConflict syncs path, then changes it on both sides.
func makeConflict(t *testing.T, f *engineFixture, path string) {
	t.Helper()
	f.store.Put(path, []byte("base"))
	f.run(t)

	f.store.Put(path, []byte("remote edit"))
	writeLocal(t, f.fs, testRoot, path, "local edit")
	touchLocal(t, f.fs, testRoot, path)
}

func TestEngineConflictKeepLocal(t *testing.T) {
	f := newEngineFixture(t)
	makeConflict(t, f, "doc.txt")

	var asked []Conflict
	decider := DeciderFunc(func(_ context.Context, c Conflict) (Decision, error) {
		asked = append(asked, c)
		return Decision{Resolution: KeepLocal}, nil
	})

	report := f.run(t, withDecider(decider))

	require.Len(t, asked, 1)
	assert.Equal(t, "doc.txt", asked[0].Path)
	assert.NotEqual(t, asked[0].RecordedRev, asked[0].RemoteRev)
	assert.True(t, asked[0].LocalMtime.After(asked[0].SyncedMtime))

	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, []byte("local edit"), f.store.Data("doc.txt"))
	assert.Len(t, f.store.Calls("upload"), 1, "uploaded once, not again by the local pass")

	f.assertConverged(t, withDecider(decider))
	assert.Len(t, asked, 1)
}

func TestEngineConflictKeepRemote(t *testing.T) {
	f := newEngineFixture(t)
	makeConflict(t, f, "doc.txt")

	decider := DeciderFunc(func(context.Context, Conflict) (Decision, error) {
		return Decision{Resolution: KeepRemote}, nil
	})
	f.store.ResetCalls()
	report := f.run(t, withDecider(decider))

	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 0, report.Uploaded)
	assert.Equal(t, "remote edit", readLocal(t, f.fs, testRoot, "doc.txt"))
	assert.Empty(t, f.store.Calls("upload"))

	f.assertConverged(t)
}

func TestEngineConflictKeepRemoteDownloadFails(t *testing.T) {
	f := newEngineFixture(t)
	makeConflict(t, f, "doc.txt")
	f.store.FailDownload["doc.txt"] = errors.New("connection reset")

	decider := DeciderFunc(func(context.Context, Conflict) (Decision, error) {
		return Decision{Resolution: KeepRemote}, nil
	})
	f.store.ResetCalls()
	report := f.run(t, withDecider(decider))

	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Uploaded)
	assert.Empty(t, f.store.Calls("upload"), "the kept remote copy is never overwritten")
	assert.Equal(t, []byte("remote edit"), f.store.Data("doc.txt"))
	assert.Equal(t, "local edit", readLocal(t, f.fs, testRoot, "doc.txt"))

	// retried as the same conflict once the store recovers
	delete(f.store.FailDownload, "doc.txt")
	report = f.run(t, withDecider(decider))
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, "remote edit", readLocal(t, f.fs, testRoot, "doc.txt"))
}

func TestEngineConflictKeepLocalUploadFails(t *testing.T) {
	f := newEngineFixture(t)
	makeConflict(t, f, "doc.txt")
	f.store.FailUpload["doc.txt"] = errors.New("connection reset")

	decider := DeciderFunc(func(context.Context, Conflict) (Decision, error) {
		return Decision{Resolution: KeepLocal}, nil
	})
	f.store.ResetCalls()
	report := f.run(t, withDecider(decider))

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Uploaded)
	assert.Len(t, f.store.Calls("upload"), 1, "no second attempt from the local pass")
	assert.Equal(t, []byte("remote edit"), f.store.Data("doc.txt"))
}

func TestEngineConflictApplyToAll(t *testing.T) {
	f := newEngineFixture(t)
	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		f.store.Put(p, []byte("base"))
	}
	f.run(t)
	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		f.store.Put(p, []byte("remote "+p))
		writeLocal(t, f.fs, testRoot, p, "local "+p)
		touchLocal(t, f.fs, testRoot, p)
	}

	calls := 0
	decider := DeciderFunc(func(context.Context, Conflict) (Decision, error) {
		calls++
		return Decision{Resolution: KeepRemote, ApplyToAll: true}, nil
	})
	report := f.run(t, withDecider(decider))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, report.Conflicts)
	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		assert.Equal(t, "remote "+p, readLocal(t, f.fs, testRoot, p))
	}

	// the answer does not outlive the run
	makeConflict(t, f, "d.txt")
	f.run(t, withDecider(decider))
	assert.Equal(t, 2, calls)
}

func TestEngineUnresolvedConflictBlocksPath(t *testing.T) {
	f := newEngineFixture(t)
	makeConflict(t, f, "doc.txt")
	recBefore, _ := f.state(t).Get("doc.txt")
	f.store.ResetCalls()

	report := f.run(t)

	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.Unresolved)
	assert.Equal(t, 0, report.Transfers())
	assert.Equal(t, 0, f.store.Transfers())
	assert.Equal(t, "local edit", readLocal(t, f.fs, testRoot, "doc.txt"))
	assert.Equal(t, []byte("remote edit"), f.store.Data("doc.txt"))

	recAfter, ok := f.state(t).Get("doc.txt")
	require.True(t, ok)
	assert.Equal(t, recBefore, recAfter)

	// still a conflict next time
	report = f.run(t)
	assert.Equal(t, 1, report.Unresolved)
}

func TestEngineFailPolicy(t *testing.T) {
	f := newEngineFixture(t)
	makeConflict(t, f, "doc.txt")

	report := f.run(t, func(c *EngineConfig) {
		c.Policy = PolicyFail
		c.Decider = DeciderFunc(func(context.Context, Conflict) (Decision, error) {
			t.Fatal("decider must not be consulted")
			return Decision{}, nil
		})
	})
	assert.Equal(t, 1, report.Unresolved)
}

func TestEngineListingFailureDeletesNothing(t *testing.T) {
	f := newEngineFixture(t)
	f.store.PageSize = 2
	for _, p := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		f.store.Put(p, []byte(p))
	}
	f.run(t)
	require.Equal(t, 5, f.state(t).Len())

	f.store.FailContinueAt = len(f.store.Calls("list_continue")) + 1
	f.store.Remove("a.txt")
	require.NoError(t, f.fs.Remove(filepath.Join(testRoot, "b.txt")))
	writeLocal(t, f.fs, testRoot, "new.txt", "new")
	f.store.ResetCalls()

	_, err := f.engine(t).Run(context.Background())

	var incomplete *ListingIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 0, f.store.Transfers())
	assert.True(t, existsLocal(f.fs, testRoot, "a.txt"))
	assert.True(t, f.store.Has("b.txt"))
	assert.False(t, f.store.Has("new.txt"))
	assert.Equal(t, 5, f.state(t).Len())
}

func TestEngineRemoteDeleteRemovesLocalAndEmptyDirs(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("a/b/c.txt", []byte("c"))
	f.store.Put("a/other.txt", []byte("o"))
	f.run(t)
	writeLocal(t, f.fs, testRoot, "a/b/.DS_Store", "finder")

	require.NoError(t, f.store.Delete(context.Background(), "a/b"))
	report := f.run(t)

	assert.Equal(t, 1, report.DeletedLocal)
	assert.Equal(t, 1, report.FoldersRemoved)
	assert.False(t, existsLocal(f.fs, testRoot, "a/b"))
	assert.True(t, existsLocal(f.fs, testRoot, "a/other.txt"))
	assert.Equal(t, []string{"a/other.txt"}, f.state(t).Paths())
	assert.Equal(t, []string{"a/b"}, f.obs.paths(OpCleanup))

	f.assertConverged(t)
}

func TestEngineLocalDeleteCascadesBothSides(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("p/q/r/file.txt", []byte("f"))
	f.store.Put("p/sibling.txt", []byte("s"))
	f.run(t)

	require.NoError(t, f.fs.Remove(filepath.Join(testRoot, "p/q/r/file.txt")))
	report := f.run(t)

	assert.Equal(t, 1, report.DeletedRemote)
	assert.Equal(t, 2, report.RemoteFoldersRemoved)
	assert.Equal(t, 2, report.FoldersRemoved)

	assert.False(t, f.store.Has("p/q/r/file.txt"))
	assert.False(t, f.store.HasFolder("p/q"))
	assert.True(t, f.store.HasFolder("p"))
	assert.False(t, existsLocal(f.fs, testRoot, "p/q"))
	assert.True(t, existsLocal(f.fs, testRoot, "p/sibling.txt"))
	assert.Equal(t, []string{"p/sibling.txt"}, f.state(t).Paths())

	f.assertConverged(t)
}

func TestEngineRemoteCascadeStopsOnFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("p/q/r/file.txt", []byte("f"))
	f.store.Put("p/sibling.txt", []byte("s"))
	f.run(t)

	require.NoError(t, f.fs.Remove(filepath.Join(testRoot, "p/q/r/file.txt")))
	f.store.FailDelete["p/q"] = errors.New("forbidden")
	report := f.run(t)

	assert.Equal(t, 1, report.DeletedRemote)
	assert.Equal(t, 1, report.RemoteFoldersRemoved)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, f.store.HasFolder("p/q/r"))
	assert.True(t, f.store.HasFolder("p/q"))
}

func TestEngineRemoteDeleteFailureKeepsRecord(t *testing.T) {
	f := newEngineFixture(t)
	writeLocal(t, f.fs, testRoot, "a.txt", "a")
	f.run(t)

	require.NoError(t, f.fs.Remove(filepath.Join(testRoot, "a.txt")))
	f.store.FailDelete["a.txt"] = errors.New("service unavailable")
	report := f.run(t)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.DeletedRemote)
	assert.True(t, f.store.Has("a.txt"))
	_, tracked := f.state(t).Get("a.txt")
	assert.True(t, tracked)
	require.Len(t, f.obs.failures(), 1)
	assert.Equal(t, OpDeleteRemote, f.obs.failures()[0].Op)

	delete(f.store.FailDelete, "a.txt")
	report = f.run(t)
	assert.Equal(t, 1, report.DeletedRemote)
	assert.False(t, f.store.Has("a.txt"))
}

func TestEngineTransferFailureIsolated(t *testing.T) {
	f := newEngineFixture(t)
	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		f.store.Put(p, []byte(p))
	}
	f.store.FailDownload["b.txt"] = errors.New("connection reset")

	report := f.run(t)

	assert.Equal(t, 2, report.Downloaded)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, existsLocal(f.fs, testRoot, "b.txt"))
	assert.Equal(t, []string{"a.txt", "c.txt"}, f.state(t).Paths())
	assert.True(t, f.store.Has("b.txt"), "a failed download never deletes remotely")

	delete(f.store.FailDownload, "b.txt")
	report = f.run(t)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, "b.txt", readLocal(t, f.fs, testRoot, "b.txt"))
}

func TestEngineFailedDownloadNotReversedByUpload(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("both.txt", []byte("remote version"))
	writeLocal(t, f.fs, testRoot, "both.txt", "local version")
	f.store.FailDownload["both.txt"] = errors.New("connection reset")

	report := f.run(t)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Uploaded)
	assert.Empty(t, f.store.Calls("upload"))
	assert.Equal(t, []byte("remote version"), f.store.Data("both.txt"))
	assert.Equal(t, "local version", readLocal(t, f.fs, testRoot, "both.txt"))
	assert.Equal(t, 0, f.state(t).Len())

	delete(f.store.FailDownload, "both.txt")
	report = f.run(t)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, "remote version", readLocal(t, f.fs, testRoot, "both.txt"))
}

func TestEngineRemoteFolderReplacesTrackedFile(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("thing", []byte("file"))
	f.run(t)

	require.NoError(t, f.store.Delete(context.Background(), "thing"))
	f.store.Put("thing/inner.txt", []byte("inner"))
	report := f.run(t)

	assert.Equal(t, 1, report.FoldersCreated)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, "inner", readLocal(t, f.fs, testRoot, "thing/inner.txt"))
	assert.Equal(t, []string{"thing/inner.txt"}, f.state(t).Paths())
}

func TestEngineExcludedPathsUntouched(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("temp/x.txt", []byte("x"))
	f.store.Put(".git/config", []byte("cfg"))
	f.store.Put("docs/mod.pyc", []byte("pyc"))
	f.store.Put("docs/ok.txt", []byte("ok"))
	writeLocal(t, f.fs, testRoot, "site/index.html", "local only")
	writeLocal(t, f.fs, testRoot, "notes.txt~", "backup")

	report := f.run(t)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 0, report.Uploaded)
	assert.Equal(t, []string{"docs/ok.txt"}, f.state(t).Paths())
	assert.False(t, existsLocal(f.fs, testRoot, "temp"))
	assert.False(t, existsLocal(f.fs, testRoot, ".git"))
	assert.False(t, existsLocal(f.fs, testRoot, "docs/mod.pyc"))
	assert.False(t, f.store.Has("site/index.html"))
	assert.True(t, f.store.Has("temp/x.txt"))

	f.assertConverged(t)
}

func TestEngineRemoteDeleteOfModifiedFile(t *testing.T) {
	setup := func(t *testing.T) *engineFixture {
		f := newEngineFixture(t)
		f.store.Put("a.txt", []byte("v1"))
		f.run(t)
		writeLocal(t, f.fs, testRoot, "a.txt", "edited")
		touchLocal(t, f.fs, testRoot, "a.txt")
		f.store.Remove("a.txt")
		return f
	}

	t.Run("deleted by default", func(t *testing.T) {
		f := setup(t)
		report := f.run(t)
		assert.Equal(t, 1, report.DeletedLocal)
		assert.False(t, existsLocal(f.fs, testRoot, "a.txt"))
		assert.False(t, f.store.Has("a.txt"))
	})

	t.Run("kept when configured", func(t *testing.T) {
		f := setup(t)
		report := f.run(t, func(c *EngineConfig) { c.KeepModifiedOnRemoteDelete = true })
		assert.Equal(t, 0, report.DeletedLocal)
		assert.Equal(t, 1, report.Uploaded)
		assert.Equal(t, []byte("edited"), f.store.Data("a.txt"))
	})
}

// snapshotStateStore records the tracked paths on every save.
type snapshotStateStore struct {
	StateStore
	saves [][]string
}

func (s *snapshotStateStore) Save(state *SyncState) error {
	s.saves = append(s.saves, state.Paths())
	return s.StateStore.Save(state)
}

func TestEngineSavesStateAfterEachPass(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("r.txt", []byte("r"))
	writeLocal(t, f.fs, testRoot, "l.txt", "l")

	recorder := &snapshotStateStore{StateStore: f.states}
	f.run(t, func(c *EngineConfig) { c.StateStore = recorder })

	assert.Equal(t, [][]string{{"r.txt"}, {"l.txt", "r.txt"}}, recorder.saves)
}

func TestEngineCorruptStateNeverDeletes(t *testing.T) {
	f := newEngineFixture(t)
	f.store.Put("a.txt", []byte("a"))
	writeLocal(t, f.fs, testRoot, "b.txt", "b")
	f.run(t)

	require.NoError(t, afero.WriteFile(f.fs, filepath.Join(testRoot, testStateFile), []byte("junk"), 0o644))
	f.store.ResetCalls()
	report := f.run(t)

	assert.Equal(t, 0, report.DeletedLocal)
	assert.Equal(t, 0, report.DeletedRemote)
	assert.Empty(t, f.store.Calls("delete"))
	assert.True(t, existsLocal(f.fs, testRoot, "a.txt"))
	assert.True(t, f.store.Has("b.txt"))
	assert.Equal(t, []string{"a.txt", "b.txt"}, f.state(t).Paths())
}

func TestEngineChunkedUpload(t *testing.T) {
	f := newEngineFixture(t)
	writeLocal(t, f.fs, testRoot, "big.bin", "0123456789")

	report := f.run(t, func(c *EngineConfig) {
		c.ChunkThreshold = 8
		c.ChunkSize = 4
	})

	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, []byte("0123456789"), f.store.Data("big.bin"))
	assert.Len(t, f.store.Calls("session_start"), 1)
	assert.Len(t, f.store.Calls("session_append"), 1)
	assert.Len(t, f.store.Calls("session_finish"), 1)
	assert.Empty(t, f.store.Calls("upload"))
}

func TestEngineRemovesStaleTempFiles(t *testing.T) {
	f := newEngineFixture(t)
	writeLocal(t, f.fs, testRoot, "dir/.a.txt.treesync-42", "partial")

	report := f.run(t)

	assert.Equal(t, 0, report.Uploaded)
	assert.False(t, existsLocal(f.fs, testRoot, "dir/.a.txt.treesync-42"))
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(EngineConfig{StateStore: &snapshotStateStore{}})
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewEngine(EngineConfig{Store: remotetest.NewMemStore()})
	assert.ErrorIs(t, err, ErrStateStoreRequired)
}

func TestEngineMissingRoot(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine(t, func(c *EngineConfig) { c.Root = "/nowhere" }).Run(context.Background())
	assert.Error(t, err)
	assert.Empty(t, f.store.Calls())
}
