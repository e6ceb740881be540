// Package browse walks a remote folder tree one page at a time on behalf
// of a picker. A Navigator owns one BrowseSession; the Manager keeps the
// open sessions of every user.
package browse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/model"
)

var (
	ErrListingInProgress = errors.New("a listing is already in progress")
	ErrNoMorePages       = errors.New("no more pages")
	ErrSuperseded        = errors.New("listing superseded by navigation")
	ErrClosed            = errors.New("browse session closed")
	ErrAtRoot            = errors.New("already at the root folder")
	ErrEntryNotFound     = errors.New("entry not found in loaded pages")
	ErrNotAFolder        = errors.New("entry is not a folder")
)

// SourceFunc resolves the session's source before every fetch so an
// expired access token is refreshed between pages.
type SourceFunc func(ctx context.Context) (adapter.RemoteSource, error)

// View is a snapshot of a session and the entries loaded for its folder.
type View struct {
	Session model.BrowseSession `json:"session"`
	Entries []model.RemoteEntry `json:"entries"`
	Loading bool                `json:"loading"`
}

// Navigator serializes page fetches of one BrowseSession. Navigation
// (Enter, Back, Close) bumps the generation so a fetch that resolves
// afterwards is dropped instead of applied.
type Navigator struct {
	source SourceFunc
	now    func() time.Time

	mu       sync.Mutex
	session  model.BrowseSession
	entries  []model.RemoteEntry
	gen      uint64
	loading  bool
	closed   bool
	lastUsed time.Time
}

// NewNavigator positions a session at the root. Nothing is fetched until Open.
func NewNavigator(id, userID string, p model.Provider, source SourceFunc) *Navigator {
	n := &Navigator{
		source: source,
		now:    time.Now,
		session: model.BrowseSession{
			ID:        id,
			UserID:    userID,
			Provider:  p,
			PathStack: []string{adapter.RootRef},
		},
	}
	n.lastUsed = n.now()
	return n
}

// ID returns the session identifier.
func (n *Navigator) ID() string { return n.session.ID }

// UserID returns the owner of the session.
func (n *Navigator) UserID() string { return n.session.UserID }

// View returns the current snapshot.
func (n *Navigator) View() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.viewLocked()
}

func (n *Navigator) viewLocked() View {
	s := n.session
	s.PathStack = append([]string(nil), n.session.PathStack...)
	return View{
		Session: s,
		Entries: append([]model.RemoteEntry{}, n.entries...),
		Loading: n.loading,
	}
}

func (n *Navigator) idleSince() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastUsed
}

// fetch describes one listing request and what to do with its result.
type fetch struct {
	gen    uint64
	stack  []string
	cursor string
	append bool
}

// start claims the session for a fetch. Navigation passes a new stack and
// bumps the generation; LoadMore continues the current one.
func (n *Navigator) start(stack []string, navigate bool) (fetch, error) {
	if n.closed {
		return fetch{}, ErrClosed
	}
	n.lastUsed = n.now()
	if navigate {
		n.gen++
		n.loading = true
		return fetch{gen: n.gen, stack: stack}, nil
	}
	if n.loading {
		return fetch{}, ErrListingInProgress
	}
	if !n.session.HasMore {
		return fetch{}, ErrNoMorePages
	}
	n.loading = true
	return fetch{gen: n.gen, stack: n.session.PathStack, cursor: n.session.Cursor, append: true}, nil
}

func (n *Navigator) run(ctx context.Context, f fetch) (View, error) {
	folder := f.stack[len(f.stack)-1]
	page, err := n.list(ctx, folder, f.cursor)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return View{}, ErrClosed
	}
	if f.gen != n.gen {
		logging.WithContext(ctx).Debug("dropping stale listing",
			zap.String("session_id", n.session.ID), zap.String("folder", folder))
		return n.viewLocked(), ErrSuperseded
	}
	n.loading = false
	if err != nil {
		return n.viewLocked(), err
	}

	if f.append {
		n.entries = append(n.entries, page.Entries...)
	} else {
		n.session.PathStack = f.stack
		n.entries = append([]model.RemoteEntry{}, page.Entries...)
	}
	n.session.Cursor = page.NextCursor
	n.session.HasMore = page.HasMore && page.NextCursor != ""
	return n.viewLocked(), nil
}

func (n *Navigator) list(ctx context.Context, folder, cursor string) (*model.Page, error) {
	src, err := n.source(ctx)
	if err != nil {
		return nil, err
	}
	page, err := src.ListPage(ctx, folder, cursor)
	if err != nil {
		return nil, fmt.Errorf("list %s folder %q: %w", n.session.Provider, folder, err)
	}
	return page, nil
}

func (n *Navigator) navigate(ctx context.Context, stack func([]string) ([]string, error)) (View, error) {
	n.mu.Lock()
	next, err := stack(n.session.PathStack)
	if err != nil {
		n.mu.Unlock()
		return View{}, err
	}
	f, err := n.start(next, true)
	n.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return n.run(ctx, f)
}

// Open loads the first page of the current folder, discarding whatever
// was loaded before. It doubles as a retry after a failed listing.
func (n *Navigator) Open(ctx context.Context) (View, error) {
	return n.navigate(ctx, func(cur []string) ([]string, error) {
		return append([]string(nil), cur...), nil
	})
}

// Enter descends into a loaded folder entry and lists its first page.
// The path stack changes only once that page has arrived.
func (n *Navigator) Enter(ctx context.Context, entryID string) (View, error) {
	return n.navigate(ctx, func(cur []string) ([]string, error) {
		e, err := n.findLocked(entryID)
		if err != nil {
			return nil, err
		}
		if !e.IsFolder() {
			return nil, ErrNotAFolder
		}
		return append(append([]string(nil), cur...), e.Ref()), nil
	})
}

// Back returns to the parent folder. The root cannot be popped.
func (n *Navigator) Back(ctx context.Context) (View, error) {
	return n.navigate(ctx, func(cur []string) ([]string, error) {
		if len(cur) <= 1 {
			return nil, ErrAtRoot
		}
		return append([]string(nil), cur[:len(cur)-1]...), nil
	})
}

// LoadMore appends the next page of the current folder.
func (n *Navigator) LoadMore(ctx context.Context) (View, error) {
	n.mu.Lock()
	f, err := n.start(nil, false)
	n.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return n.run(ctx, f)
}

// Select picks a loaded entry. A file yields a selection and leaves the
// session where it is; a folder is entered and the selection is nil.
func (n *Navigator) Select(ctx context.Context, entryID string) (*model.RemoteSelection, View, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, View{}, ErrClosed
	}
	e, err := n.findLocked(entryID)
	if err != nil {
		n.mu.Unlock()
		return nil, View{}, err
	}
	if !e.IsFolder() {
		n.lastUsed = n.now()
		sel := &model.RemoteSelection{Provider: n.session.Provider, Entry: e}
		v := n.viewLocked()
		n.mu.Unlock()
		return sel, v, nil
	}
	n.mu.Unlock()

	v, err := n.Enter(ctx, entryID)
	return nil, v, err
}

// Close ends the session; results of in-flight fetches are ignored.
func (n *Navigator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.gen++
	n.loading = false
	n.entries = nil
}

func (n *Navigator) findLocked(entryID string) (model.RemoteEntry, error) {
	for _, e := range n.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return model.RemoteEntry{}, ErrEntryNotFound
}
