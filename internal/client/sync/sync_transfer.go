package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/openmined/treesync/internal/remote"
	"github.com/spf13/afero"
)

const (
	DefaultChunkThreshold int64 = 140_000_000
	DefaultChunkSize      int64 = 10_000_000

	// downloads land in hidden temp files, which the scanner never picks up
	tempMarker = ".treesync-"
)

// TransferEngine moves file content between the sync root and the store.
type TransferEngine struct {
	fs        afero.Fs
	root      string
	store     remote.Store
	threshold int64
	chunkSize int64
	observer  Observer
}

func NewTransferEngine(fsys afero.Fs, root string, store remote.Store, threshold, chunkSize int64, observer Observer) *TransferEngine {
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &TransferEngine{
		fs:        fsys,
		root:      root,
		store:     store,
		threshold: threshold,
		chunkSize: chunkSize,
		observer:  observer,
	}
}

func (t *TransferEngine) localPath(rel string) string {
	return filepath.Join(t.root, filepath.FromSlash(rel))
}

// Download fetches rel into the sync root. Content is written to a temp file
// in the target directory and renamed over the target once complete.
func (t *TransferEngine) Download(ctx context.Context, rel string) (SyncRecord, error) {
	target := t.localPath(rel)
	dir := filepath.Dir(target)

	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return SyncRecord{}, &TransferError{Op: OpWriteLocal, Path: rel, Err: err}
	}

	tmp, err := afero.TempFile(t.fs, dir, "."+filepath.Base(target)+tempMarker+"*")
	if err != nil {
		return SyncRecord{}, &TransferError{Op: OpWriteLocal, Path: rel, Err: err}
	}
	tmpName := tmp.Name()

	meta, err := t.store.Download(ctx, rel, tmp)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = t.fs.Rename(tmpName, target)
	}
	if err != nil {
		_ = t.fs.Remove(tmpName)
		return SyncRecord{}, &TransferError{Op: OpWriteLocal, Path: rel, Err: err}
	}

	info, err := t.fs.Stat(target)
	if err != nil {
		return SyncRecord{}, &TransferError{Op: OpWriteLocal, Path: rel, Err: err}
	}

	slog.Debug("sync", "op", OpWriteLocal, "path", rel, "rev", meta.Rev, "size", humanize.Bytes(uint64(info.Size())))
	return SyncRecord{Rev: meta.Rev, SyncedMtime: info.ModTime()}, nil
}

// Upload sends rel to the store, in one request below the chunk threshold
// and as an upload session at or above it.
func (t *TransferEngine) Upload(ctx context.Context, rel string) (SyncRecord, error) {
	local := t.localPath(rel)

	f, err := t.fs.Open(local)
	if err != nil {
		return SyncRecord{}, &TransferError{Op: OpWriteRemote, Path: rel, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return SyncRecord{}, &TransferError{Op: OpWriteRemote, Path: rel, Err: err}
	}

	var meta *remote.FileMetadata
	if info.Size() < t.threshold {
		meta, err = t.store.Upload(ctx, rel, f, info.Size(), remote.Overwrite(rel))
	} else {
		meta, err = t.uploadChunked(ctx, rel, f, info.Size())
	}
	if err != nil {
		return SyncRecord{}, &TransferError{Op: OpWriteRemote, Path: rel, Err: err}
	}

	// mtime observed after the transfer, like downloads
	info, err = t.fs.Stat(local)
	if err != nil {
		return SyncRecord{}, &TransferError{Op: OpWriteRemote, Path: rel, Err: err}
	}

	slog.Debug("sync", "op", OpWriteRemote, "path", rel, "rev", meta.Rev, "size", humanize.Bytes(uint64(info.Size())))
	return SyncRecord{Rev: meta.Rev, SyncedMtime: info.ModTime()}, nil
}

// uploadChunked reads fixed size chunks. The first full chunk opens the
// session, further full chunks are appended at the number of bytes sent so
// far, and the first short read (possibly empty) is sent with the finish
// call.
func (t *TransferEngine) uploadChunked(ctx context.Context, rel string, r io.Reader, total int64) (*remote.FileMetadata, error) {
	buf := make([]byte, t.chunkSize)
	cursor := remote.SessionCursor{}

	for {
		n, err := io.ReadFull(r, buf)
		short := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !short {
			return nil, fmt.Errorf("read chunk at %d: %w", cursor.Offset, err)
		}
		data := buf[:n]

		if short {
			if cursor.SessionID == "" {
				// whole file fits in one short chunk
				id, err := t.store.UploadSessionStart(ctx, rel, data)
				if err != nil {
					return nil, err
				}
				cursor = remote.SessionCursor{SessionID: id, Offset: int64(n)}
				data = nil
			}
			meta, err := t.store.UploadSessionFinish(ctx, data, cursor, remote.Overwrite(rel))
			if err != nil {
				return nil, err
			}
			t.observer.OnProgress(rel, cursor.Offset+int64(len(data)), total)
			return meta, nil
		}

		if cursor.SessionID == "" {
			id, err := t.store.UploadSessionStart(ctx, rel, data)
			if err != nil {
				return nil, err
			}
			cursor.SessionID = id
		} else if err := t.store.UploadSessionAppend(ctx, data, cursor); err != nil {
			return nil, err
		}
		cursor.Offset += int64(n)
		t.observer.OnProgress(rel, cursor.Offset, total)
	}
}

// CleanupTemp removes download temp files left behind by an interrupted run.
// Directories for which skipDir returns true are not visited.
func (t *TransferEngine) CleanupTemp(skipDir func(rel string) bool) (int, error) {
	removed := 0
	err := afero.Walk(t.fs, t.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			rel, _ := filepath.Rel(t.root, path)
			if rel != "." && skipDir != nil && skipDir(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasPrefix(info.Name(), ".") || !strings.Contains(info.Name(), tempMarker) {
			return nil
		}
		if err := t.fs.Remove(path); err != nil {
			slog.Warn("sync", "op", OpCleanup, "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})
	return removed, err
}
