package remote

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// EntryKind tells file, folder and deletion entries of a listing apart.
type EntryKind string

const (
	EntryFile    EntryKind = "file"
	EntryFolder  EntryKind = "folder"
	EntryDeleted EntryKind = "deleted"
)

// WriteMode selects what a commit does when the destination already exists.
type WriteMode string

const (
	WriteModeOverwrite WriteMode = "overwrite"
	WriteModeAdd       WriteMode = "add"
)

// Entry is one item of a remote listing. Path is relative to the store root,
// slash separated and without a leading slash.
type Entry struct {
	Kind           EntryKind
	Path           string
	Rev            string
	Size           int64
	ServerModified time.Time
}

// ListResult is one page of a listing.
type ListResult struct {
	Entries []Entry
	Cursor  string
	HasMore bool
}

// FileMetadata describes a remote file version after a transfer.
type FileMetadata struct {
	Path           string
	Rev            string
	Size           int64
	ServerModified time.Time
}

// CommitInfo is the destination descriptor of an upload.
type CommitInfo struct {
	Path string
	Mode WriteMode
	Mute bool
}

// SessionCursor identifies an upload session and the number of bytes the
// session has received so far.
type SessionCursor struct {
	SessionID string
	Offset    int64
}

// Store is the remote object tree the synchronizer reconciles against.
type Store interface {
	// ListFolder returns the first page of entries under path ("" is the root).
	ListFolder(ctx context.Context, path string, recursive bool) (*ListResult, error)
	// ListFolderContinue returns the page following cursor.
	ListFolderContinue(ctx context.Context, cursor string) (*ListResult, error)
	// Download streams the content of path into w.
	Download(ctx context.Context, path string, w io.Writer) (*FileMetadata, error)
	// Upload writes size bytes read from r in a single request.
	Upload(ctx context.Context, path string, r io.Reader, size int64, commit CommitInfo) (*FileMetadata, error)
	// UploadSessionStart opens a chunked upload session with its first chunk.
	UploadSessionStart(ctx context.Context, path string, data []byte) (string, error)
	// UploadSessionAppend adds a chunk at cursor.Offset.
	UploadSessionAppend(ctx context.Context, data []byte, cursor SessionCursor) error
	// UploadSessionFinish sends the last chunk and commits the session.
	UploadSessionFinish(ctx context.Context, data []byte, cursor SessionCursor, commit CommitInfo) (*FileMetadata, error)
	// Delete removes a file or folder. It returns ErrNotFound when path does not exist.
	Delete(ctx context.Context, path string) error
}

// Overwrite returns the commit descriptor used by the synchronizer.
func Overwrite(p string) CommitInfo {
	return CommitInfo{Path: p, Mode: WriteModeOverwrite, Mute: true}
}

// CleanPath normalizes a relative store path: slash separated, no leading or
// trailing slash, "" for the root.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Parent returns the parent of a relative store path, "" for top level entries.
func Parent(p string) string {
	dir := path.Dir(CleanPath(p))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
