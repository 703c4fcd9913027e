// Package remotetest provides an in-memory remote.Store for tests.
package remotetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openmined/treesync/internal/remote"
)

// Call is one recorded store operation.
type Call struct {
	Op     string
	Path   string
	Offset int64
	Size   int
}

type object struct {
	data []byte
	rev  string
}

type session struct {
	path string
	buf  bytes.Buffer
}

type listing struct {
	pages [][]remote.Entry
	next  int
}

// MemStore is a remote.Store kept in memory. Folders exist explicitly
// (Mkdir) or implicitly as parents of files.
type MemStore struct {
	// PageSize bounds entries per listing page, 0 means unbounded.
	PageSize int
	// FailContinueAt makes the n-th ListFolderContinue call fail (1-based).
	FailContinueAt int
	// DropHasMore returns the first page with HasMore set but no cursor.
	DropHasMore bool

	FailDownload map[string]error
	FailUpload   map[string]error
	FailDelete   map[string]error

	mu        sync.Mutex
	objects   map[string]*object
	folders   map[string]struct{}
	sessions  map[string]*session
	listings  map[string]*listing
	calls     []Call
	revSeq    int
	cursorSeq int
	continues int
}

func NewMemStore() *MemStore {
	return &MemStore{
		FailDownload: make(map[string]error),
		FailUpload:   make(map[string]error),
		FailDelete:   make(map[string]error),
		objects:      make(map[string]*object),
		folders:      make(map[string]struct{}),
		sessions:     make(map[string]*session),
		listings:     make(map[string]*listing),
	}
}

// Put stores data at path and returns the new revision.
func (m *MemStore) Put(path string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(remote.CleanPath(path), data)
}

// Mkdir creates an explicit (possibly empty) folder.
func (m *MemStore) Mkdir(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[remote.CleanPath(path)] = struct{}{}
}

// Remove deletes a file without recording a call.
func (m *MemStore) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, remote.CleanPath(path))
}

func (m *MemStore) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[remote.CleanPath(path)]
	return ok
}

func (m *MemStore) HasFolder(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folderExists(remote.CleanPath(path))
}

func (m *MemStore) Data(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[remote.CleanPath(path)]; ok {
		return bytes.Clone(obj.data)
	}
	return nil
}

func (m *MemStore) Rev(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[remote.CleanPath(path)]; ok {
		return obj.rev
	}
	return ""
}

// Calls returns the recorded calls, optionally filtered by op.
func (m *MemStore) Calls(ops ...string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if len(ops) == 0 || contains(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (m *MemStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Transfers counts recorded calls that move file content or delete paths.
func (m *MemStore) Transfers() int {
	return len(m.Calls("download", "upload", "session_start", "session_append", "session_finish", "delete"))
}

func (m *MemStore) ListFolder(ctx context.Context, path string, recursive bool) (*remote.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path = remote.CleanPath(path)
	m.record(Call{Op: "list", Path: path})
	if path != "" && !m.folderExists(path) {
		return nil, fmt.Errorf("list_folder: %w", remote.ErrNotFound)
	}

	entries := m.entries(path, recursive)
	pageSize := m.PageSize
	if pageSize <= 0 {
		pageSize = len(entries) + 1
	}

	l := &listing{}
	for start := 0; start < len(entries); start += pageSize {
		end := min(start+pageSize, len(entries))
		l.pages = append(l.pages, entries[start:end])
	}
	if len(l.pages) == 0 {
		l.pages = [][]remote.Entry{nil}
	}

	return m.page(l), nil
}

func (m *MemStore) ListFolderContinue(ctx context.Context, cursor string) (*remote.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.continues++
	m.record(Call{Op: "list_continue", Path: cursor})
	if m.FailContinueAt > 0 && m.continues == m.FailContinueAt {
		return nil, &remote.APIError{Op: "list_folder/continue", Status: 503, Summary: "injected failure"}
	}

	l, ok := m.listings[cursor]
	if !ok || l.next >= len(l.pages) {
		return nil, fmt.Errorf("list_folder/continue: %w", remote.ErrCursorReset)
	}
	delete(m.listings, cursor)
	return m.page(l), nil
}

func (m *MemStore) Download(ctx context.Context, path string, w io.Writer) (*remote.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path = remote.CleanPath(path)
	m.mu.Lock()
	m.record(Call{Op: "download", Path: path})
	if err := m.FailDownload[path]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	obj, ok := m.objects[path]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("download: %w", remote.ErrNotFound)
	}
	data := bytes.Clone(obj.data)
	meta := &remote.FileMetadata{Path: path, Rev: obj.rev, Size: int64(len(data))}
	m.mu.Unlock()

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	return meta, nil
}

func (m *MemStore) Upload(ctx context.Context, path string, r io.Reader, size int64, commit remote.CommitInfo) (*remote.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target := remote.CleanPath(commit.Path)
	m.record(Call{Op: "upload", Path: target, Size: len(data)})
	if err := m.FailUpload[target]; err != nil {
		return nil, err
	}
	rev := m.put(target, data)
	return &remote.FileMetadata{Path: target, Rev: rev, Size: int64(len(data))}, nil
}

func (m *MemStore) UploadSessionStart(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path = remote.CleanPath(path)
	m.record(Call{Op: "session_start", Path: path, Size: len(data)})
	if err := m.FailUpload[path]; err != nil {
		return "", err
	}

	m.cursorSeq++
	id := fmt.Sprintf("session-%d", m.cursorSeq)
	s := &session{path: path}
	s.buf.Write(data)
	m.sessions[id] = s
	return id, nil
}

func (m *MemStore) UploadSessionAppend(ctx context.Context, data []byte, cursor remote.SessionCursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[cursor.SessionID]
	if !ok {
		return remote.ErrUnknownSession
	}
	m.record(Call{Op: "session_append", Path: s.path, Offset: cursor.Offset, Size: len(data)})
	if int64(s.buf.Len()) != cursor.Offset {
		return remote.ErrIncorrectOffset
	}
	s.buf.Write(data)
	return nil
}

func (m *MemStore) UploadSessionFinish(ctx context.Context, data []byte, cursor remote.SessionCursor, commit remote.CommitInfo) (*remote.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[cursor.SessionID]
	if !ok {
		return nil, remote.ErrUnknownSession
	}
	target := remote.CleanPath(commit.Path)
	m.record(Call{Op: "session_finish", Path: target, Offset: cursor.Offset, Size: len(data)})
	if int64(s.buf.Len()) != cursor.Offset {
		return nil, remote.ErrIncorrectOffset
	}
	s.buf.Write(data)
	delete(m.sessions, cursor.SessionID)

	rev := m.put(target, s.buf.Bytes())
	return &remote.FileMetadata{Path: target, Rev: rev, Size: int64(s.buf.Len())}, nil
}

func (m *MemStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path = remote.CleanPath(path)
	m.record(Call{Op: "delete", Path: path})
	if err := m.FailDelete[path]; err != nil {
		return err
	}

	if _, ok := m.objects[path]; ok {
		delete(m.objects, path)
		return nil
	}
	if path == "" || !m.folderExists(path) {
		return fmt.Errorf("delete: %w", remote.ErrNotFound)
	}

	// folders are deleted with their contents
	prefix := path + "/"
	delete(m.folders, path)
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			delete(m.objects, p)
		}
	}
	for p := range m.folders {
		if strings.HasPrefix(p, prefix) {
			delete(m.folders, p)
		}
	}
	return nil
}

func (m *MemStore) put(path string, data []byte) string {
	m.revSeq++
	rev := fmt.Sprintf("%09x", m.revSeq)
	m.objects[path] = &object{data: bytes.Clone(data), rev: rev}
	for dir := remote.Parent(path); dir != ""; dir = remote.Parent(dir) {
		m.folders[dir] = struct{}{}
	}
	return rev
}

func (m *MemStore) folderExists(path string) bool {
	if _, ok := m.folders[path]; ok {
		return true
	}
	prefix := path + "/"
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (m *MemStore) entries(path string, recursive bool) []remote.Entry {
	within := func(p string) bool {
		if path == "" {
			return recursive || !strings.Contains(p, "/")
		}
		if !strings.HasPrefix(p, path+"/") {
			return false
		}
		return recursive || !strings.Contains(strings.TrimPrefix(p, path+"/"), "/")
	}

	var entries []remote.Entry
	for dir := range m.folders {
		if within(dir) {
			entries = append(entries, remote.Entry{Kind: remote.EntryFolder, Path: dir})
		}
	}
	for p, obj := range m.objects {
		if within(p) {
			entries = append(entries, remote.Entry{
				Kind:           remote.EntryFile,
				Path:           p,
				Rev:            obj.rev,
				Size:           int64(len(obj.data)),
				ServerModified: time.Unix(0, 0).UTC(),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// page serves the next page of l under a fresh cursor.
func (m *MemStore) page(l *listing) *remote.ListResult {
	entries := l.pages[l.next]
	l.next++

	m.cursorSeq++
	cursor := fmt.Sprintf("cursor-%d", m.cursorSeq)
	m.listings[cursor] = l

	res := &remote.ListResult{
		Entries: append([]remote.Entry(nil), entries...),
		Cursor:  cursor,
		HasMore: l.next < len(l.pages),
	}
	if res.HasMore && m.DropHasMore {
		res.Cursor = ""
	}
	return res
}

func (m *MemStore) record(c Call) {
	m.calls = append(m.calls, c)
}

func contains(ops []string, op string) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
