package sync

import (
	"errors"
	"fmt"
)

var (
	ErrConflictUnresolved = errors.New("conflict unresolved")
	ErrStoreRequired      = errors.New("remote store required")
	ErrStateStoreRequired = errors.New("state store required")
)

// TransferError is a failed upload, download or delete of a single path.
// The path keeps its SyncRecord and is retried by the next run.
type TransferError struct {
	Op   OpType
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ListingIncompleteError means the remote listing could not be drained. No
// deletion may be inferred from a partial listing.
type ListingIncompleteError struct {
	Pages  int
	Cursor string
	Err    error
}

func (e *ListingIncompleteError) Error() string {
	return fmt.Sprintf("remote listing incomplete after %d page(s): %v", e.Pages, e.Err)
}

func (e *ListingIncompleteError) Unwrap() error { return e.Err }

// ScanIncompleteError means the local walk failed. No remote deletion may be
// inferred from a partial scan.
type ScanIncompleteError struct {
	Root string
	Err  error
}

func (e *ScanIncompleteError) Error() string {
	return fmt.Sprintf("local scan of %s incomplete: %v", e.Root, e.Err)
}

func (e *ScanIncompleteError) Unwrap() error { return e.Err }

// StateCorruptError is returned next to an empty state when the persisted
// state could not be read.
type StateCorruptError struct {
	Path string
	Err  error
}

func (e *StateCorruptError) Error() string {
	return fmt.Sprintf("sync state %s unreadable: %v", e.Path, e.Err)
}

func (e *StateCorruptError) Unwrap() error { return e.Err }
