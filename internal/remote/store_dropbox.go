package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/imroc/req/v3"
	"github.com/openmined/treesync/internal/utils"
	"github.com/openmined/treesync/internal/version"
)

const (
	HeaderDropboxArg    = "Dropbox-API-Arg"
	HeaderDropboxResult = "Dropbox-API-Result"
	HeaderDeviceID      = "X-TreeSync-Device"

	retryMinBackoff = 500 * time.Millisecond
	retryMaxBackoff = 5 * time.Second
)

type dbxMetadata struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ID             string    `json:"id"`
	Rev            string    `json:"rev"`
	Size           int64     `json:"size"`
	ServerModified time.Time `json:"server_modified"`
}

type dbxListFolderArg struct {
	Path           string `json:"path"`
	Recursive      bool   `json:"recursive"`
	IncludeDeleted bool   `json:"include_deleted"`
	Limit          int    `json:"limit,omitempty"`
}

type dbxListFolderResult struct {
	Entries []dbxMetadata `json:"entries"`
	Cursor  string        `json:"cursor"`
	HasMore bool          `json:"has_more"`
}

type dbxCursorArg struct {
	Cursor string `json:"cursor"`
}

type dbxPathArg struct {
	Path string `json:"path"`
}

type dbxCommitInfo struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

type dbxSessionCursor struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

type dbxSessionStartArg struct {
	Close bool `json:"close"`
}

type dbxSessionStartResult struct {
	SessionID string `json:"session_id"`
}

type dbxSessionAppendArg struct {
	Cursor dbxSessionCursor `json:"cursor"`
	Close  bool             `json:"close"`
}

type dbxSessionFinishArg struct {
	Cursor dbxSessionCursor `json:"cursor"`
	Commit dbxCommitInfo    `json:"commit"`
}

type dbxDeleteResult struct {
	Metadata dbxMetadata `json:"metadata"`
}

type dbxError struct {
	ErrorSummary string `json:"error_summary"`
}

// DropboxStore talks to the Dropbox v2 HTTP API. RPC calls (listing, delete)
// and content calls (download, upload) use separate clients so that each
// gets its own timeout.
type DropboxStore struct {
	api        *req.Client
	content    *req.Client
	apiURL     string
	contentURL string
	retries    int
	pageSize   int
}

func NewDropboxStore(cfg *Config) (*DropboxStore, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}

	apiURL := strings.TrimSuffix(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultDropboxAPIURL
	}
	contentURL := strings.TrimSuffix(cfg.ContentURL, "/")
	if contentURL == "" {
		contentURL = DefaultDropboxContentURL
	}

	return &DropboxStore{
		api:        newHTTPClient(cfg.Token, cfg.requestTimeout()),
		content:    newHTTPClient(cfg.Token, cfg.transferTimeout()),
		apiURL:     apiURL,
		contentURL: contentURL,
		retries:    cfg.maxRetries(),
		pageSize:   cfg.PageSize,
	}, nil
}

func newHTTPClient(token string, timeout time.Duration) *req.Client {
	return req.C().
		SetTimeout(timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonBearerAuthToken(token).
		SetCommonHeader(HeaderDeviceID, utils.HWID).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)
}

func (d *DropboxStore) ListFolder(ctx context.Context, path string, recursive bool) (*ListResult, error) {
	arg := &dbxListFolderArg{
		Path:      dropboxPath(path),
		Recursive: recursive,
		Limit:     d.pageSize,
	}
	return d.listFolder(ctx, "list_folder", "/2/files/list_folder", arg)
}

func (d *DropboxStore) ListFolderContinue(ctx context.Context, cursor string) (*ListResult, error) {
	return d.listFolder(ctx, "list_folder/continue", "/2/files/list_folder/continue", &dbxCursorArg{Cursor: cursor})
}

func (d *DropboxStore) listFolder(ctx context.Context, op string, endpoint string, arg any) (*ListResult, error) {
	var result dbxListFolderResult

	resp, err := d.api.R().
		SetContext(ctx).
		SetRetryCount(d.retries).
		SetRetryBackoffInterval(retryMinBackoff, retryMaxBackoff).
		SetRetryCondition(retryable).
		SetBody(arg).
		SetSuccessResult(&result).
		Post(d.apiURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("remote: %s: %w", op, err)
	}
	if resp.IsErrorState() {
		return nil, parseError(op, resp.StatusCode, resp.Bytes())
	}

	page := &ListResult{
		Entries: make([]Entry, 0, len(result.Entries)),
		Cursor:  result.Cursor,
		HasMore: result.HasMore,
	}
	for _, m := range result.Entries {
		entry, ok := m.entry()
		if !ok {
			slog.Debug("remote list skipped entry", "tag", m.Tag, "path", m.PathDisplay)
			continue
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}

func (d *DropboxStore) Download(ctx context.Context, path string, w io.Writer) (*FileMetadata, error) {
	arg, err := apiArg(&dbxPathArg{Path: dropboxPath(path)})
	if err != nil {
		return nil, err
	}

	resp, err := d.content.R().
		SetContext(ctx).
		SetRetryCount(d.retries).
		SetRetryBackoffInterval(retryMinBackoff, retryMaxBackoff).
		SetRetryCondition(retryable).
		SetHeader(HeaderDropboxArg, arg).
		DisableAutoReadResponse().
		Post(d.contentURL + "/2/files/download")
	if err != nil {
		return nil, fmt.Errorf("remote: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsErrorState() {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, parseError("download", resp.StatusCode, body)
	}

	var meta dbxMetadata
	if err := jsonUnmarshal([]byte(resp.Header.Get(HeaderDropboxResult)), &meta); err != nil {
		return nil, fmt.Errorf("remote: download: bad %s header: %w", HeaderDropboxResult, err)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return nil, fmt.Errorf("remote: download %s: %w", path, err)
	}

	return meta.fileMetadata(), nil
}

func (d *DropboxStore) Upload(ctx context.Context, path string, r io.Reader, size int64, commit CommitInfo) (*FileMetadata, error) {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return nil, fmt.Errorf("remote: upload %s: read: %w", path, err)
	}

	var meta dbxMetadata
	if err := d.contentCall(ctx, "upload", "/2/files/upload", commitArg(commit), data, &meta); err != nil {
		return nil, err
	}
	return meta.fileMetadata(), nil
}

func (d *DropboxStore) UploadSessionStart(ctx context.Context, _ string, data []byte) (string, error) {
	var result dbxSessionStartResult
	if err := d.contentCall(ctx, "upload_session/start", "/2/files/upload_session/start", &dbxSessionStartArg{}, data, &result); err != nil {
		return "", err
	}
	if result.SessionID == "" {
		return "", &APIError{Op: "upload_session/start", Status: http.StatusOK, Summary: "empty session id"}
	}
	return result.SessionID, nil
}

func (d *DropboxStore) UploadSessionAppend(ctx context.Context, data []byte, cursor SessionCursor) error {
	arg := &dbxSessionAppendArg{
		Cursor: dbxSessionCursor{SessionID: cursor.SessionID, Offset: cursor.Offset},
	}
	return d.contentCall(ctx, "upload_session/append_v2", "/2/files/upload_session/append_v2", arg, data, nil)
}

func (d *DropboxStore) UploadSessionFinish(ctx context.Context, data []byte, cursor SessionCursor, commit CommitInfo) (*FileMetadata, error) {
	arg := &dbxSessionFinishArg{
		Cursor: dbxSessionCursor{SessionID: cursor.SessionID, Offset: cursor.Offset},
		Commit: *commitArg(commit),
	}

	var meta dbxMetadata
	if err := d.contentCall(ctx, "upload_session/finish", "/2/files/upload_session/finish", arg, data, &meta); err != nil {
		return nil, err
	}
	return meta.fileMetadata(), nil
}

func (d *DropboxStore) Delete(ctx context.Context, path string) error {
	var result dbxDeleteResult

	resp, err := d.api.R().
		SetContext(ctx).
		SetBody(&dbxPathArg{Path: dropboxPath(path)}).
		SetSuccessResult(&result).
		Post(d.apiURL + "/2/files/delete_v2")
	if err != nil {
		return fmt.Errorf("remote: delete: %w", err)
	}
	if resp.IsErrorState() {
		return parseError("delete", resp.StatusCode, resp.Bytes())
	}
	return nil
}

// contentCall posts data to a content endpoint. Uploads commit remote state,
// so they are never retried.
func (d *DropboxStore) contentCall(ctx context.Context, op string, endpoint string, arg any, data []byte, result any) error {
	header, err := apiArg(arg)
	if err != nil {
		return err
	}

	r := d.content.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetHeader(HeaderDropboxArg, header).
		SetHeader("Content-Type", "application/octet-stream").
		SetBodyBytes(data)
	if result != nil {
		r.SetSuccessResult(result)
	}

	resp, err := r.Post(d.contentURL + endpoint)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", op, err)
	}
	if resp.IsErrorState() {
		return parseError(op, resp.StatusCode, resp.Bytes())
	}
	return nil
}

func retryable(resp *req.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}

func parseError(op string, status int, body []byte) error {
	var e dbxError
	summary := ""
	if err := jsonUnmarshal(body, &e); err == nil {
		summary = e.ErrorSummary
	} else {
		summary = strings.TrimSpace(string(body))
	}

	if status == http.StatusConflict {
		switch {
		case strings.Contains(summary, "not_found"):
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case strings.Contains(summary, "incorrect_offset"):
			return fmt.Errorf("%s: %w", op, ErrIncorrectOffset)
		case strings.HasPrefix(summary, "reset"):
			return fmt.Errorf("%s: %w", op, ErrCursorReset)
		}
	}

	return &APIError{Op: op, Status: status, Summary: summary}
}

func commitArg(c CommitInfo) *dbxCommitInfo {
	mode := c.Mode
	if mode == "" {
		mode = WriteModeOverwrite
	}
	return &dbxCommitInfo{
		Path: dropboxPath(c.Path),
		Mode: string(mode),
		Mute: c.Mute,
	}
}

// apiArg encodes v for the Dropbox-API-Arg header. HTTP headers must be
// ASCII, so everything outside it is written as a JSON \u escape.
func apiArg(v any) (string, error) {
	b, err := jsonMarshal(v)
	if err != nil {
		return "", fmt.Errorf("remote: encode api arg: %w", err)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for _, r := range string(b) {
		switch {
		case r < 0x7f:
			sb.WriteRune(r)
		case r > 0xffff:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&sb, "\\u%04x\\u%04x", r1, r2)
		default:
			fmt.Fprintf(&sb, "\\u%04x", r)
		}
	}
	return sb.String(), nil
}

func dropboxPath(p string) string {
	p = CleanPath(p)
	if p == "" {
		return ""
	}
	return "/" + p
}

func (m *dbxMetadata) relPath() string {
	p := m.PathDisplay
	if p == "" {
		p = m.PathLower
	}
	return CleanPath(p)
}

func (m *dbxMetadata) entry() (Entry, bool) {
	e := Entry{
		Path:           m.relPath(),
		Rev:            m.Rev,
		Size:           m.Size,
		ServerModified: m.ServerModified,
	}
	switch m.Tag {
	case "file":
		e.Kind = EntryFile
	case "folder":
		e.Kind = EntryFolder
	case "deleted":
		e.Kind = EntryDeleted
	default:
		return Entry{}, false
	}
	return e, e.Path != ""
}

func (m *dbxMetadata) fileMetadata() *FileMetadata {
	return &FileMetadata{
		Path:           m.relPath(),
		Rev:            m.Rev,
		Size:           m.Size,
		ServerModified: m.ServerModified,
	}
}
