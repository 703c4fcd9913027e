package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

const folderMarker = "/"

// commitOnce disables SDK retries on calls that commit an object. A retried
// commit whose first attempt landed would write twice.
func commitOnce(o *s3.Options) {
	o.RetryMaxAttempts = 1
}

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// s3Cursor is the decoded form of a listing cursor.
type s3Cursor struct {
	Path      string `json:"p"`
	Recursive bool   `json:"r"`
	Token     string `json:"t"`
}

type s3Session struct {
	id     string
	key    string
	parts  []types.CompletedPart
	offset int64
}

// S3Store maps the store contract onto an S3 bucket. Folders are implicit
// key prefixes, optionally materialized as zero byte "dir/" marker objects.
// Chunked uploads become multipart uploads.
type S3Store struct {
	client   s3API
	bucket   string
	prefix   string
	pageSize int32

	mu       gosync.Mutex
	sessions map[string]*s3Session
}

func NewS3Store(client s3API, bucket string, prefix string, pageSize int) *S3Store {
	prefix = CleanPath(prefix)
	if prefix != "" {
		prefix += "/"
	}
	return &S3Store{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		pageSize: int32(pageSize),
		sessions: make(map[string]*s3Session),
	}
}

func NewS3StoreWithConfig(cfg *Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: cfg.transferTimeout(),
	}

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
		config.WithRetryMaxAttempts(cfg.maxRetries() + 1),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("remote: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3Store(client, cfg.Bucket, cfg.Prefix, cfg.PageSize), nil
}

func (s *S3Store) ListFolder(ctx context.Context, path string, recursive bool) (*ListResult, error) {
	return s.list(ctx, s3Cursor{Path: CleanPath(path), Recursive: recursive})
}

func (s *S3Store) ListFolderContinue(ctx context.Context, cursor string) (*ListResult, error) {
	c, err := decodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("list continue: %w", ErrCursorReset)
	}
	return s.list(ctx, c)
}

func (s *S3Store) list(ctx context.Context, c s3Cursor) (*ListResult, error) {
	dirPrefix := s.key(c.Path)
	if c.Path != "" {
		dirPrefix += folderMarker
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(dirPrefix),
	}
	if !c.Recursive {
		input.Delimiter = aws.String(folderMarker)
	}
	if s.pageSize > 0 {
		input.MaxKeys = aws.Int32(s.pageSize)
	}
	if c.Token != "" {
		input.ContinuationToken = aws.String(c.Token)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("remote: list %q: %w", c.Path, err)
	}

	folders := make(map[string]struct{})
	result := &ListResult{}

	for _, obj := range out.Contents {
		rel := s.rel(aws.ToString(obj.Key))
		if rel == "" {
			continue
		}
		if strings.HasSuffix(aws.ToString(obj.Key), folderMarker) {
			folders[CleanPath(rel)] = struct{}{}
			continue
		}
		if c.Recursive {
			for dir := Parent(rel); dir != "" && dir != c.Path; dir = Parent(dir) {
				folders[dir] = struct{}{}
			}
		}
		result.Entries = append(result.Entries, Entry{
			Kind:           EntryFile,
			Path:           rel,
			Rev:            etag(obj.ETag),
			Size:           aws.ToInt64(obj.Size),
			ServerModified: aws.ToTime(obj.LastModified),
		})
	}
	for _, p := range out.CommonPrefixes {
		if rel := CleanPath(s.rel(aws.ToString(p.Prefix))); rel != "" {
			folders[rel] = struct{}{}
		}
	}
	delete(folders, c.Path)

	for dir := range folders {
		result.Entries = append(result.Entries, Entry{Kind: EntryFolder, Path: dir})
	}
	// parents sort before their children
	sort.SliceStable(result.Entries, func(i, j int) bool {
		return result.Entries[i].Path < result.Entries[j].Path
	})

	if aws.ToBool(out.IsTruncated) {
		token := aws.ToString(out.NextContinuationToken)
		if token == "" {
			return nil, fmt.Errorf("remote: list %q: truncated page without continuation token", c.Path)
		}
		result.HasMore = true
		result.Cursor = encodeCursor(s3Cursor{Path: c.Path, Recursive: c.Recursive, Token: token})
	} else {
		result.Cursor = encodeCursor(s3Cursor{Path: c.Path, Recursive: c.Recursive})
	}

	return result, nil
}

func (s *S3Store) Download(ctx context.Context, path string, w io.Writer) (*FileMetadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return nil, s.mapError("download", err)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: download %s: %w", path, err)
	}

	return &FileMetadata{
		Path:           CleanPath(path),
		Rev:            etag(out.ETag),
		Size:           n,
		ServerModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, path string, r io.Reader, size int64, commit CommitInfo) (*FileMetadata, error) {
	if commit.Path == "" {
		commit.Path = path
	}

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(commit.Path)),
		Body:          r,
		ContentLength: aws.Int64(size),
	}, commitOnce)
	if err != nil {
		return nil, s.mapError("upload", err)
	}

	return &FileMetadata{
		Path:           CleanPath(commit.Path),
		Rev:            etag(out.ETag),
		Size:           size,
		ServerModified: time.Now().UTC(),
	}, nil
}

func (s *S3Store) UploadSessionStart(ctx context.Context, path string, data []byte) (string, error) {
	key := s.key(path)
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", s.mapError("upload_session/start", err)
	}

	sess := &s3Session{
		id:  aws.ToString(out.UploadId),
		key: key,
	}
	if err := s.uploadPart(ctx, sess, data); err != nil {
		s.abort(sess)
		return "", err
	}

	// the multipart upload id is bound to the key, the session id is ours
	handle := uuid.NewString()
	s.mu.Lock()
	s.sessions[handle] = sess
	s.mu.Unlock()

	return handle, nil
}

func (s *S3Store) UploadSessionAppend(ctx context.Context, data []byte, cursor SessionCursor) error {
	sess, err := s.session(cursor)
	if err != nil {
		return err
	}
	return s.uploadPart(ctx, sess, data)
}

func (s *S3Store) UploadSessionFinish(ctx context.Context, data []byte, cursor SessionCursor, commit CommitInfo) (*FileMetadata, error) {
	sess, err := s.session(cursor)
	if err != nil {
		return nil, err
	}
	if commit.Path != "" && s.key(commit.Path) != sess.key {
		return nil, &APIError{Op: "upload_session/finish", Status: http.StatusBadRequest, Summary: "commit path differs from session path"}
	}

	if len(data) > 0 {
		if err := s.uploadPart(ctx, sess, data); err != nil {
			return nil, err
		}
	}

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(sess.key),
		UploadId:        aws.String(sess.id),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: sess.parts},
	}, commitOnce)
	s.mu.Lock()
	delete(s.sessions, cursor.SessionID)
	s.mu.Unlock()
	if err != nil {
		s.abort(sess)
		return nil, s.mapError("upload_session/finish", err)
	}

	return &FileMetadata{
		Path:           s.rel(sess.key),
		Rev:            etag(out.ETag),
		Size:           sess.offset,
		ServerModified: time.Now().UTC(),
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, path string) error {
	key := s.key(path)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return s.deleteKey(ctx, key)
	case !isNotFound(err):
		return s.mapError("delete", err)
	}

	// not a file, try the folder marker
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key + folderMarker),
	})
	switch {
	case err == nil:
		return s.deleteKey(ctx, key+folderMarker)
	case !isNotFound(err):
		return s.mapError("delete", err)
	}

	return fmt.Errorf("delete: %w", ErrNotFound)
}

func (s *S3Store) deleteKey(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.mapError("delete", err)
	}
	return nil
}

func (s *S3Store) session(cursor SessionCursor) (*s3Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[cursor.SessionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	if sess.offset != cursor.Offset {
		return nil, fmt.Errorf("session at %d, cursor at %d: %w", sess.offset, cursor.Offset, ErrIncorrectOffset)
	}
	return sess, nil
}

func (s *S3Store) uploadPart(ctx context.Context, sess *s3Session, data []byte) error {
	partNumber := int32(len(sess.parts) + 1)
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(sess.key),
		UploadId:      aws.String(sess.id),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return s.mapError("upload_session/append", err)
	}

	sess.parts = append(sess.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	sess.offset += int64(len(data))
	return nil
}

func (s *S3Store) abort(sess *s3Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(sess.key),
		UploadId: aws.String(sess.id),
	})
}

func (s *S3Store) key(path string) string {
	return s.prefix + CleanPath(path)
}

func (s *S3Store) rel(key string) string {
	return strings.TrimPrefix(key, s.prefix)
}

func (s *S3Store) mapError(op string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("remote: %s: %w", op, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func etag(v *string) string {
	return strings.Trim(aws.ToString(v), `"`)
}

func encodeCursor(c s3Cursor) string {
	b, _ := jsonMarshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeCursor(cursor string) (s3Cursor, error) {
	var c s3Cursor
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return c, err
	}
	err = jsonUnmarshal(b, &c)
	return c, err
}
