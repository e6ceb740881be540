// Package memory implements adapter.RemoteSource on an in-process tree.
// It backs DEV_MODE demo accounts and tests that need a controllable source.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/model"
	"github.com/jun/docpick/internal/scratch"
)

const (
	maxDemoItemCount   = 200
	maxDemoContentSize = 10 * 1024 * 1024
)

var errDemoLimit = errors.New("demo item limit reached")

// Source is a fake provider account. The zero value is not usable; call New.
type Source struct {
	provider model.Provider
	area     *scratch.Area
	pageSize int

	mu       sync.Mutex
	children map[string][]model.RemoteEntry
	content  map[string][]byte
	count    int
	failure  error
	calls    int

	// BeforeList, when set, runs before every ListPage (outside the lock).
	BeforeList func(folderRef, cursor string)
}

func New(p model.Provider, area *scratch.Area, pageSize int) *Source {
	if pageSize <= 0 {
		pageSize = adapter.DefaultPageSize
	}
	return &Source{
		provider: p,
		area:     area,
		pageSize: pageSize,
		children: map[string][]model.RemoteEntry{adapter.RootRef: nil},
		content:  make(map[string][]byte),
	}
}

func (s *Source) add(parentRef string, e model.RemoteEntry) (model.RemoteEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[parentRef]; !ok {
		return e, fmt.Errorf("folder %q: %w", parentRef, adapter.ErrNotFound)
	}
	if s.count >= maxDemoItemCount {
		return e, errDemoLimit
	}
	e.ID = uuid.NewString()
	if e.IsFolder() {
		s.children[e.ID] = nil
	}
	s.children[parentRef] = append(s.children[parentRef], e)
	s.count++
	return e, nil
}

// AddFolder creates a folder under parentRef and returns its reference.
func (s *Source) AddFolder(parentRef, name string) (string, error) {
	e, err := s.add(parentRef, model.RemoteEntry{Name: name, Kind: model.KindFolder, ModifiedAt: time.Now().UTC()})
	return e.ID, err
}

// AddFile creates a file under parentRef.
func (s *Source) AddFile(parentRef, name, mimeType string, data []byte) (model.RemoteEntry, error) {
	if len(data) > maxDemoContentSize {
		return model.RemoteEntry{}, fmt.Errorf("content too large: %d bytes", len(data))
	}
	e, err := s.add(parentRef, model.RemoteEntry{
		Name:       name,
		Kind:       model.KindFile,
		MIMEType:   mimeType,
		SizeBytes:  int64(len(data)),
		ModifiedAt: time.Now().UTC(),
	})
	if err != nil {
		return e, err
	}
	s.mu.Lock()
	s.content[e.ID] = bytes.Clone(data)
	s.mu.Unlock()
	return e, nil
}

// SetFailure makes every subsequent call fail with err until cleared with nil.
func (s *Source) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// ListCalls reports how many ListPage calls reached the source.
func (s *Source) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func cursorFor(folderRef string, offset int) string {
	return folderRef + "#" + strconv.Itoa(offset)
}

func parseCursor(folderRef, cursor string) (int, error) {
	ref, off, ok := strings.Cut(cursor, "#")
	n, err := strconv.Atoi(off)
	if !ok || err != nil || ref != folderRef || n < 0 {
		return 0, fmt.Errorf("cursor %q does not belong to folder %q: %w", cursor, folderRef, adapter.ErrUnavailable)
	}
	return n, nil
}

func (s *Source) ListPage(_ context.Context, folderRef, cursor string) (*model.Page, error) {
	if s.BeforeList != nil {
		s.BeforeList(folderRef, cursor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failure != nil {
		return nil, s.failure
	}
	items, ok := s.children[folderRef]
	if !ok {
		return nil, fmt.Errorf("folder %q: %w", folderRef, adapter.ErrNotFound)
	}

	offset := 0
	if cursor != "" {
		var err error
		if offset, err = parseCursor(folderRef, cursor); err != nil {
			return nil, err
		}
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := min(offset+s.pageSize, len(items))

	page := &model.Page{Entries: append([]model.RemoteEntry{}, items[offset:end]...)}
	if end < len(items) {
		page.HasMore = true
		page.NextCursor = cursorFor(folderRef, end)
	}
	return page, nil
}

// Materialize writes the stored bytes to the scratch area. Entries typed
// as Google-native documents are written as PDF.
func (s *Source) Materialize(_ context.Context, e model.RemoteEntry) (*model.LocalMaterializedFile, error) {
	return s.materialize(s.area, e)
}

// ForUser returns a view of the same tree that materializes into userID's
// scratch directory.
func (s *Source) ForUser(userID string) adapter.RemoteSource {
	return userSource{Source: s, area: s.area.ForUser(userID)}
}

type userSource struct {
	*Source
	area *scratch.Area
}

func (u userSource) Materialize(_ context.Context, e model.RemoteEntry) (*model.LocalMaterializedFile, error) {
	return u.Source.materialize(u.area, e)
}

func (s *Source) materialize(area *scratch.Area, e model.RemoteEntry) (*model.LocalMaterializedFile, error) {
	s.mu.Lock()
	failure := s.failure
	data, ok := s.content[e.ID]
	s.mu.Unlock()
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("file %q: %w", e.ID, adapter.ErrNotFound)
	}

	name, mimeType := e.Name, e.MIMEType
	if strings.HasPrefix(mimeType, "application/vnd.google-apps.") {
		name = adapter.PDFName(name)
		mimeType = "application/pdf"
	}
	return area.Write(s.provider, name, mimeType, bytes.NewReader(data))
}
