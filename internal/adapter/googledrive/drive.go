// Package googledrive implements adapter.RemoteSource on the Drive v3 API.
package googledrive

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/model"
	"github.com/jun/docpick/internal/scratch"
)

const (
	folderMIME = "application/vnd.google-apps.folder"
	pdfMIME    = "application/pdf"
	listFields = "nextPageToken, files(id, name, mimeType, modifiedTime, size)"
)

// exportable lists Drive-native types that are exported to PDF.
var exportable = map[string]bool{
	"application/vnd.google-apps.document":     true,
	"application/vnd.google-apps.spreadsheet":  true,
	"application/vnd.google-apps.presentation": true,
}

// IsNative reports whether mimeType is a Drive-native document.
func IsNative(mimeType string) bool {
	return exportable[mimeType]
}

// Source lists and downloads one user's Drive files.
type Source struct {
	service  *drive.Service
	area     *scratch.Area
	pageSize int64
}

// NewSource creates a Source. client must carry the user's credentials;
// extra options (e.g. option.WithEndpoint) are passed to drive.NewService.
func NewSource(ctx context.Context, client *http.Client, area *scratch.Area, pageSize int, opts ...option.ClientOption) (*Source, error) {
	srv, err := drive.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive client: %w", err)
	}
	if pageSize <= 0 {
		pageSize = adapter.DefaultPageSize
	}
	return &Source{service: srv, area: area, pageSize: int64(pageSize)}, nil
}

// Builder returns an adapter.Builder producing Drive sources that download
// into the scratch directory of the requesting user.
func Builder(area *scratch.Area, pageSize int, opts ...option.ClientOption) adapter.Builder {
	return func(ctx context.Context, userID string, client *http.Client) (adapter.RemoteSource, error) {
		return NewSource(ctx, client, area.ForUser(userID), pageSize, opts...)
	}
}

func folderQuery(folderRef string) string {
	if folderRef == adapter.RootRef {
		folderRef = "root"
	}
	id := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(folderRef)
	return fmt.Sprintf("'%s' in parents and trashed = false", id)
}

// ListPage lists one page of a folder.
func (s *Source) ListPage(ctx context.Context, folderRef, cursor string) (*model.Page, error) {
	call := s.service.Files.List().
		Q(folderQuery(folderRef)).
		Fields(googleapi.Field(listFields)).
		PageSize(s.pageSize).
		Context(ctx)
	if cursor != "" {
		call = call.PageToken(cursor)
	}

	r, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("unable to list files: %w (%v)", mapError(err), err)
	}

	page := &model.Page{Entries: make([]model.RemoteEntry, 0, len(r.Files))}
	for _, f := range r.Files {
		modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
		kind := model.KindFile
		if f.MimeType == folderMIME {
			kind = model.KindFolder
		}
		page.Entries = append(page.Entries, model.RemoteEntry{
			ID:         f.Id,
			Name:       f.Name,
			Kind:       kind,
			MIMEType:   f.MimeType,
			SizeBytes:  f.Size,
			ModifiedAt: modTime,
		})
	}
	page.NextCursor = r.NextPageToken
	page.HasMore = r.NextPageToken != ""
	return page, nil
}

// Materialize exports native documents to PDF and downloads everything else.
func (s *Source) Materialize(ctx context.Context, entry model.RemoteEntry) (*model.LocalMaterializedFile, error) {
	if entry.IsFolder() {
		return nil, fmt.Errorf("cannot download folder %s: %w", entry.ID, adapter.ErrNotFound)
	}

	name, mimeType := entry.Name, entry.MIMEType
	var (
		resp *http.Response
		err  error
	)
	if IsNative(entry.MIMEType) {
		name = adapter.PDFName(name)
		mimeType = pdfMIME
		resp, err = s.service.Files.Export(entry.ID, pdfMIME).Context(ctx).Download()
	} else {
		resp, err = s.service.Files.Get(entry.ID).SupportsAllDrives(true).Context(ctx).Download()
	}
	if err != nil {
		return nil, fmt.Errorf("unable to download file: %w (%v)", mapError(err), err)
	}
	defer resp.Body.Close()

	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}
	f, err := s.area.Write(model.GoogleDrive, name, mimeType, resp.Body)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func mapError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return adapter.FromStatus(gErr.Code)
	}
	return adapter.ErrUnavailable
}
