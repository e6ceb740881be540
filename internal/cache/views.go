// Package cache holds per-user cached views derived from the document API.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jun/docpick/internal/metrics"
)

// View names one cached view.
type View string

const (
	UserDocuments View = "user-documents"
	Skills        View = "skills"
	Education     View = "education"
	Experience    View = "experience"
)

// ResumeDerived are the views extracted from a résumé.
var ResumeDerived = []View{Skills, Education, Experience}

type key struct {
	userID string
	view   View
}

type entry struct {
	value   any
	expires time.Time
}

// Views is a TTL cache of per-user views.
type Views struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[key]entry
}

// New returns a cache whose entries live for ttl.
func New(ttl time.Duration) *Views {
	return &Views{ttl: ttl, now: time.Now, entries: make(map[key]entry)}
}

// Get returns a live cached value.
func (v *Views) Get(userID string, view View) (any, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[key{userID, view}]
	if !ok || !v.now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

// Set stores value for userID's view.
func (v *Views) Set(userID string, view View, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[key{userID, view}] = entry{value: value, expires: v.now().Add(v.ttl)}
}

// Invalidate drops the given views of userID.
func (v *Views) Invalidate(userID string, views ...View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, view := range views {
		delete(v.entries, key{userID, view})
		metrics.RecordInvalidation(string(view))
	}
}

// Load returns the cached view or fills it from load. Failed loads are not cached.
func Load[T any](ctx context.Context, v *Views, userID string, view View, load func(context.Context) (T, error)) (T, error) {
	if cached, ok := v.Get(userID, view); ok {
		if t, ok := cached.(T); ok {
			return t, nil
		}
	}
	t, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v.Set(userID, view, t)
	return t, nil
}
