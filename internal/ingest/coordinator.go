// Package ingest validates a selected document source and submits it to
// the document API, invalidating the views that depend on it.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/cache"
	"github.com/jun/docpick/internal/docapi"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/metrics"
	"github.com/jun/docpick/internal/model"
)

// Uploader is the subset of docapi.Client the coordinator uses.
type Uploader interface {
	Upload(ctx context.Context, u docapi.Upload) error
	SubmitLink(ctx context.Context, l docapi.Link) error
}

// Sources resolves a user's remote source; adapter.Registry implements it.
type Sources interface {
	Source(ctx context.Context, p model.Provider, userID string) (adapter.RemoteSource, error)
}

// Invalidator drops cached views of a user; cache.Views implements it.
type Invalidator interface {
	Invalidate(userID string, views ...cache.View)
}

// Scratch removes materialized files; scratch.Area implements it.
type Scratch interface {
	Remove(path string) error
}

// Coordinator runs exactly one upload path per UploadIntent.
type Coordinator struct {
	docs       Uploader
	sources    Sources
	scratch    Scratch
	views      Invalidator
	selections *Selections
	maxBytes   int64
}

func NewCoordinator(docs Uploader, sources Sources, scratch Scratch, views Invalidator, selections *Selections, maxBytes int64) *Coordinator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Coordinator{
		docs:       docs,
		sources:    sources,
		scratch:    scratch,
		views:      views,
		selections: selections,
		maxBytes:   maxBytes,
	}
}

// Selections returns the selection state the coordinator clears on success.
func (c *Coordinator) Selections() *Selections { return c.selections }

// Submit reports whether intent was accepted by the document API.
func (c *Coordinator) Submit(ctx context.Context, userID string, intent model.UploadIntent) bool {
	return c.Ingest(ctx, userID, intent) == nil
}

// Ingest is Submit with the failure reason. Validation failures are
// *ValidationError and happen before any network call.
func (c *Coordinator) Ingest(ctx context.Context, userID string, intent model.UploadIntent) error {
	log := logging.WithContext(ctx).With(
		zap.String("user_id", userID),
		zap.String("source_kind", string(intent.SourceKind)),
		zap.String("document_type", string(intent.DocumentType)),
	)

	err := c.ingest(ctx, userID, intent)
	metrics.RecordUpload(string(intent.SourceKind), err == nil)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			log.Info("upload rejected", zap.String("rule", ve.Rule), zap.String("detail", ve.Detail))
		} else {
			log.Warn("upload failed", zap.Error(err))
		}
		return err
	}

	views := []cache.View{cache.UserDocuments}
	if intent.DocumentType == model.Resume {
		views = append(views, cache.ResumeDerived...)
	}
	c.views.Invalidate(userID, views...)
	c.selections.Clear(userID)
	log.Info("document uploaded")
	return nil
}

func (c *Coordinator) ingest(ctx context.Context, userID string, in model.UploadIntent) error {
	if err := in.Validate(); err != nil {
		return invalid(RuleIntent, "%v", err)
	}
	if !in.DocumentType.Valid() {
		return invalid(RuleDocumentType, "unknown document type %q", in.DocumentType)
	}

	switch in.SourceKind {
	case model.DirectUpload:
		return c.uploadLocal(ctx, in)
	case model.ImageUpload:
		return c.uploadImage(ctx, in)
	case model.LinkInput:
		return c.submitLink(ctx, in)
	default:
		return c.uploadRemote(ctx, userID, in)
	}
}

func (c *Coordinator) uploadLocal(ctx context.Context, in model.UploadIntent) error {
	f := in.Local
	if err := checkDocument(f.Name, f.MIMEType, int64(len(f.Content)), c.maxBytes); err != nil {
		return err
	}
	title, err := NormalizeTitle(in.Title, f.Name)
	if err != nil {
		return err
	}
	return c.docs.Upload(ctx, docapi.Upload{
		Field:        docapi.FieldDocument,
		FileName:     f.Name,
		MIMEType:     f.MIMEType,
		Content:      bytes.NewReader(f.Content),
		DocumentType: in.DocumentType,
		Title:        title,
	})
}

func (c *Coordinator) uploadImage(ctx context.Context, in model.UploadIntent) error {
	f := in.Local
	title, err := NormalizeTitle(in.Title, f.Name)
	if err != nil {
		return err
	}
	data, err := NormalizeImage(f.Content)
	if err != nil {
		return err
	}
	if int64(len(data)) > c.maxBytes {
		return invalid(RuleSize, "image is %d bytes after compression, the limit is %d", len(data), c.maxBytes)
	}
	return c.docs.Upload(ctx, docapi.Upload{
		Field:        docapi.FieldDocumentImage,
		FileName:     jpegName(f.Name),
		MIMEType:     "image/jpeg",
		Content:      bytes.NewReader(data),
		DocumentType: in.DocumentType,
		Title:        title,
	})
}

func (c *Coordinator) submitLink(ctx context.Context, in model.UploadIntent) error {
	kind, err := CheckLink(*in.Link)
	if err != nil {
		return err
	}
	title, err := NormalizeTitle(in.Title, "")
	if err != nil {
		return err
	}
	return c.docs.SubmitLink(ctx, docapi.Link{
		URL:          *in.Link,
		DocumentType: in.DocumentType,
		Title:        title,
		URLType:      kind,
	})
}

func (c *Coordinator) uploadRemote(ctx context.Context, userID string, in model.UploadIntent) error {
	entry := in.Remote.Entry
	if err := CheckRemote(entry, c.maxBytes); err != nil {
		return err
	}
	title, err := NormalizeTitle(in.Title, entry.Name)
	if err != nil {
		return err
	}

	src, err := c.sources.Source(ctx, in.Remote.Provider, userID)
	if err != nil {
		return err
	}
	file, err := src.Materialize(ctx, entry)
	if errors.Is(err, adapter.ErrTooLarge) {
		// listed size was unknown (native exports) or understated
		return invalid(RuleSize, "%q is larger than the limit of %d bytes", entry.Name, c.maxBytes)
	}
	if err != nil {
		return fmt.Errorf("materialize %q: %w", entry.Name, err)
	}
	defer func() {
		if err := c.scratch.Remove(file.Path); err != nil {
			logging.WithContext(ctx).Warn("scratch cleanup failed", zap.String("path", file.Path), zap.Error(err))
		}
	}()
	if err := checkDocument(file.DisplayName, file.MIMEType, file.Size, c.maxBytes); err != nil {
		return err
	}

	fh, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open materialized file: %w", err)
	}
	defer fh.Close()
	return c.docs.Upload(ctx, docapi.Upload{
		Field:        docapi.FieldDocument,
		FileName:     file.DisplayName,
		MIMEType:     file.MIMEType,
		Content:      fh,
		DocumentType: in.DocumentType,
		Title:        title,
	})
}
