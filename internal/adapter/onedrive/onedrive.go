// Package onedrive implements adapter.RemoteSource on Microsoft Graph.
package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/model"
	"github.com/jun/docpick/internal/scratch"
)

const graphURL = "https://graph.microsoft.com/v1.0"

// downloadTimeout applies to pre-signed downloads when the Graph client
// carries no timeout of its own.
const downloadTimeout = 30 * time.Second

// Source lists and downloads one user's OneDrive files.
type Source struct {
	client   *http.Client
	download *http.Client // unauthenticated, for pre-signed download URLs
	area     *scratch.Area
	pageSize int
	baseURL  string
}

// Option configures a Source.
type Option func(*Source)

// WithBaseURL points the source at another Graph host (tests).
func WithBaseURL(u string) Option {
	return func(s *Source) { s.baseURL = strings.TrimSuffix(u, "/") }
}

func NewSource(client *http.Client, area *scratch.Area, pageSize int, opts ...Option) *Source {
	if pageSize <= 0 {
		pageSize = adapter.DefaultPageSize
	}
	timeout := client.Timeout
	if timeout == 0 {
		timeout = downloadTimeout
	}
	s := &Source{
		client:   client,
		download: &http.Client{Timeout: timeout},
		area:     area,
		pageSize: pageSize,
		baseURL:  graphURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Builder returns an adapter.Builder producing OneDrive sources.
func Builder(area *scratch.Area, pageSize int, opts ...Option) adapter.Builder {
	return func(_ context.Context, userID string, client *http.Client) (adapter.RemoteSource, error) {
		return NewSource(client, area.ForUser(userID), pageSize, opts...), nil
	}
}

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Size                 int64     `json:"size"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	DownloadURL          string    `json:"@microsoft.graph.downloadUrl"`
	Folder               *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file,omitempty"`
	ParentReference struct {
		Path string `json:"path"`
	} `json:"parentReference"`
}

type childrenResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// childrenURL addresses folders by path relative to the drive root.
func (s *Source) childrenURL(folderRef string) string {
	top := "?$top=" + strconv.Itoa(s.pageSize)
	folderRef = strings.Trim(folderRef, "/")
	if folderRef == "" {
		return s.baseURL + "/me/drive/root/children" + top
	}
	segs := strings.Split(folderRef, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/me/drive/root:/" + strings.Join(segs, "/") + ":/children" + top
}

// itemPath rebuilds the root-relative path from parentReference.path,
// which Graph reports as "/drive/root:/Some/Folder".
func itemPath(it driveItem) string {
	parent := it.ParentReference.Path
	if i := strings.Index(parent, ":"); i != -1 {
		parent = parent[i+1:]
	} else {
		parent = ""
	}
	if decoded, err := url.PathUnescape(parent); err == nil {
		parent = decoded
	}
	return path.Join("/", parent, it.Name)
}

// ListPage lists one page. The cursor is the @odata.nextLink of the
// previous page and is requested verbatim.
func (s *Source) ListPage(ctx context.Context, folderRef, cursor string) (*model.Page, error) {
	target := s.childrenURL(folderRef)
	if cursor != "" {
		if !strings.HasPrefix(cursor, s.baseURL+"/") {
			return nil, fmt.Errorf("next link %q is not a Graph URL: %w", cursor, adapter.ErrUnavailable)
		}
		target = cursor
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("children request failed: %w (%v)", adapter.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("children", resp)
	}

	var out childrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode children response: %w (%v)", adapter.ErrUnavailable, err)
	}

	page := &model.Page{
		Entries:    make([]model.RemoteEntry, 0, len(out.Value)),
		NextCursor: out.NextLink,
		HasMore:    out.NextLink != "",
	}
	for _, it := range out.Value {
		e := model.RemoteEntry{
			ID:           it.ID,
			Name:         it.Name,
			Kind:         model.KindFile,
			SizeBytes:    it.Size,
			ModifiedAt:   it.LastModifiedDateTime,
			ProviderPath: itemPath(it),
			DownloadURL:  it.DownloadURL,
		}
		switch {
		case it.Folder != nil:
			e.Kind = model.KindFolder
		case it.File != nil:
			e.MIMEType = it.File.MimeType
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

// Materialize prefers the pre-authenticated download URL captured at
// listing time and falls back to /content.
func (s *Source) Materialize(ctx context.Context, e model.RemoteEntry) (*model.LocalMaterializedFile, error) {
	if e.IsFolder() {
		return nil, fmt.Errorf("cannot download folder %s: %w", e.ID, adapter.ErrNotFound)
	}

	client, target := s.download, e.DownloadURL
	if target == "" {
		client, target = s.client, s.baseURL+"/me/drive/items/"+url.PathEscape(e.ID)+"/content"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w (%v)", adapter.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("download", resp)
	}

	mimeType := e.MIMEType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(e.Name))
	}
	return s.area.Write(model.OneDrive, e.Name, mimeType, resp.Body)
}

func statusError(op string, resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	json.Unmarshal(body, &apiErr)
	return fmt.Errorf("%s failed with status %d (%s): %w", op, resp.StatusCode, apiErr.Error.Code, adapter.FromStatus(resp.StatusCode))
}
