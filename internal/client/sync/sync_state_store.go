package sync

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

const stateSnapshotVersion = 1

// stateMagic prefixes every state file so a foreign or truncated file is
// never decoded as state.
var stateMagic = []byte("TSYNC\x01")

// StateStore persists SyncState between runs.
type StateStore interface {
	// Load returns the persisted state. The returned state is always usable:
	// when nothing was persisted it is empty, and when the persisted state is
	// unreadable it is empty and the error is a *StateCorruptError.
	Load() (*SyncState, error)
	// Save replaces the persisted state atomically.
	Save(state *SyncState) error
	Close() error
}

type stateSnapshot struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Records []snapshotRecord `json:"records"`
}

type snapshotRecord struct {
	Path  string `json:"path"`
	Rev   string `json:"rev"`
	Mtime int64  `json:"mtime_ns"`
}

// FileStateStore keeps the state in a single zstd compressed JSON file,
// replaced with write-to-temp then rename.
type FileStateStore struct {
	fs   afero.Fs
	path string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func NewFileStateStore(fsys afero.Fs, path string) (*FileStateStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("state encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("state decoder: %w", err)
	}
	return &FileStateStore{fs: fsys, path: path, enc: enc, dec: dec}, nil
}

func (s *FileStateStore) Path() string {
	return s.path
}

func (s *FileStateStore) Load() (*SyncState, error) {
	raw, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("sync state not found, starting fresh", "path", s.path)
		return NewSyncState(), nil
	}
	if err != nil {
		return NewSyncState(), &StateCorruptError{Path: s.path, Err: err}
	}

	state, err := s.decode(raw)
	if err != nil {
		return NewSyncState(), &StateCorruptError{Path: s.path, Err: err}
	}

	slog.Debug("sync state loaded", "path", s.path, "records", state.Len())
	return state, nil
}

func (s *FileStateStore) decode(raw []byte) (*SyncState, error) {
	if !bytes.HasPrefix(raw, stateMagic) {
		return nil, errors.New("bad header")
	}

	payload, err := s.dec.DecodeAll(raw[len(stateMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var snap stateSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if snap.Version != stateSnapshotVersion {
		return nil, fmt.Errorf("unsupported version %d", snap.Version)
	}

	state := NewSyncState()
	for _, r := range snap.Records {
		state.Set(r.Path, SyncRecord{Rev: r.Rev, SyncedMtime: time.Unix(0, r.Mtime)})
	}
	return state, nil
}

func (s *FileStateStore) Save(state *SyncState) error {
	snap := stateSnapshot{
		Version: stateSnapshotVersion,
		SavedAt: time.Now().UTC(),
	}
	for path, rec := range state.Snapshot() {
		snap.Records = append(snap.Records, snapshotRecord{
			Path:  path,
			Rev:   rec.Rev,
			Mtime: rec.SyncedMtime.UnixNano(),
		})
	}

	payload, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}

	data := append(bytes.Clone(stateMagic), s.enc.EncodeAll(payload, nil)...)
	if err := writeFileAtomic(s.fs, s.path, data); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}

	slog.Debug("sync state saved", "path", s.path, "records", len(snap.Records))
	return nil
}

func (s *FileStateStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// writeFileAtomic writes data next to path and renames it into place, so a
// crash leaves either the old or the new file.
func writeFileAtomic(fsys afero.Fs, path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = fsys.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return fsys.Rename(tmpName, path)
}
