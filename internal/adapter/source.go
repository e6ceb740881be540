// Package adapter defines the remote directory walker and file
// materializer contracts shared by every storage provider.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/metrics"
	"github.com/jun/docpick/internal/model"
)

// RootRef is the folder reference of a provider's root. Every source maps
// it to its own root notion ("root" on Drive, "" on Dropbox, /root on Graph).
const RootRef = ""

// DefaultPageSize keeps pages small so "load more" is exercised.
const DefaultPageSize = 5

// PDFName names the PDF export of a native document. Native documents carry
// no extension, so anything after a dot is part of the name.
func PDFName(name string) string {
	if strings.EqualFold(path.Ext(name), ".pdf") {
		return name
	}
	return name + ".pdf"
}

// RemoteSource lists and downloads files of one user's account.
type RemoteSource interface {
	// ListPage returns one page of folderRef. An empty cursor starts a new
	// page sequence. Entries keep the provider's order; an empty folder is
	// an empty page, not an error.
	ListPage(ctx context.Context, folderRef, cursor string) (*model.Page, error)

	// Materialize downloads entry into the scratch area, converting
	// provider-native documents to PDF where the provider supports it.
	// On failure no file is left behind.
	Materialize(ctx context.Context, entry model.RemoteEntry) (*model.LocalMaterializedFile, error)
}

// SourceProvider returns the RemoteSource for a given user.
type SourceProvider interface {
	Source(ctx context.Context, userID string) (RemoteSource, error)
}

// AccessProvider hands out authorized HTTP clients; auth.Connector implements it.
type AccessProvider interface {
	EnsureAccess(ctx context.Context, userID string) (*http.Client, bool)
}

// Builder constructs userID's provider source around an authorized client.
type Builder func(ctx context.Context, userID string, client *http.Client) (RemoteSource, error)

// UserScoped is implemented by shared sources that can hand out a view
// materializing into one user's scratch directory.
type UserScoped interface {
	ForUser(userID string) RemoteSource
}

// ConnectedProvider resolves a fresh access token before building a source.
type ConnectedProvider struct {
	provider model.Provider
	access   AccessProvider
	build    Builder
}

func NewConnectedProvider(p model.Provider, access AccessProvider, build Builder) *ConnectedProvider {
	return &ConnectedProvider{provider: p, access: access, build: build}
}

func (c *ConnectedProvider) Source(ctx context.Context, userID string) (RemoteSource, error) {
	client, ok := c.access.EnsureAccess(ctx, userID)
	if !ok {
		return nil, ErrNotConnected
	}
	src, err := c.build(ctx, userID, client)
	if err != nil {
		return nil, fmt.Errorf("build %s source: %w", c.provider, err)
	}
	return Instrument(c.provider, src), nil
}

// StaticProvider serves the same source to every user (DEV_MODE demo data).
type StaticProvider struct {
	provider model.Provider
	src      RemoteSource
}

func NewStaticProvider(p model.Provider, src RemoteSource) *StaticProvider {
	return &StaticProvider{provider: p, src: src}
}

func (s *StaticProvider) Source(_ context.Context, userID string) (RemoteSource, error) {
	src := s.src
	if scoped, ok := src.(UserScoped); ok {
		src = scoped.ForUser(userID)
	}
	return Instrument(s.provider, src), nil
}

// Registry maps providers to their source providers.
type Registry map[model.Provider]SourceProvider

// Source returns the user's source for p.
func (r Registry) Source(ctx context.Context, p model.Provider, userID string) (RemoteSource, error) {
	sp, ok := r[p]
	if !ok {
		return nil, fmt.Errorf("no file source for %s: %w", p, ErrNotFound)
	}
	return sp.Source(ctx, userID)
}

type instrumented struct {
	provider model.Provider
	next     RemoteSource
}

// Instrument wraps src with metrics, logging and error normalization.
func Instrument(p model.Provider, src RemoteSource) RemoteSource {
	if _, ok := src.(*instrumented); ok {
		return src
	}
	return &instrumented{provider: p, next: src}
}

func (i *instrumented) ListPage(ctx context.Context, folderRef, cursor string) (*model.Page, error) {
	start := time.Now()
	page, err := i.next.ListPage(ctx, folderRef, cursor)
	metrics.RecordListing(string(i.provider), time.Since(start), err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("listing failed",
			zap.String("provider", string(i.provider)), zap.String("folder", folderRef), zap.Error(err))
		return nil, Normalize(err)
	}
	return page, nil
}

func (i *instrumented) Materialize(ctx context.Context, entry model.RemoteEntry) (*model.LocalMaterializedFile, error) {
	f, err := i.next.Materialize(ctx, entry)
	if err != nil {
		metrics.RecordMaterialization(string(i.provider), 0, false)
		logging.WithContext(ctx).Warn("materialize failed",
			zap.String("provider", string(i.provider)), zap.String("file_id", entry.ID), zap.Error(err))
		return nil, Normalize(err)
	}
	metrics.RecordMaterialization(string(i.provider), f.Size, true)
	return f, nil
}
