package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/treesync/internal/remote"
)

// RemoteListing is a fully drained recursive listing.
type RemoteListing struct {
	Entries []remote.Entry
	Pages   int
}

// RemoteLister enumerates the whole remote tree page by page.
type RemoteLister struct {
	store remote.Store
}

func NewRemoteLister(store remote.Store) *RemoteLister {
	return &RemoteLister{store: store}
}

// ListAll follows the cursor until the store reports no more pages. Any
// failure on the way, including a page that claims more results without a
// usable cursor, yields a *ListingIncompleteError and no entries.
func (l *RemoteLister) ListAll(ctx context.Context) (*RemoteListing, error) {
	page, err := l.store.ListFolder(ctx, "", true)
	if err != nil {
		return nil, &ListingIncompleteError{Err: err}
	}

	listing := &RemoteListing{Pages: 1}
	seen := make(map[string]struct{})

	for {
		listing.Entries = append(listing.Entries, page.Entries...)
		if !page.HasMore {
			break
		}

		cursor := page.Cursor
		if cursor == "" {
			return nil, &ListingIncompleteError{Pages: listing.Pages, Err: errors.New("more pages announced without a cursor")}
		}
		if _, dup := seen[cursor]; dup {
			return nil, &ListingIncompleteError{Pages: listing.Pages, Cursor: cursor, Err: errors.New("cursor repeated")}
		}
		seen[cursor] = struct{}{}

		page, err = l.store.ListFolderContinue(ctx, cursor)
		if err != nil {
			return nil, &ListingIncompleteError{Pages: listing.Pages, Cursor: cursor, Err: err}
		}
		listing.Pages++
	}

	slog.Debug("remote listing drained", "pages", listing.Pages, "entries", len(listing.Entries))
	return listing, nil
}
