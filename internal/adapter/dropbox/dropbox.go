// Package dropbox implements adapter.RemoteSource on the Dropbox v2 HTTP API.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/model"
	"github.com/jun/docpick/internal/scratch"
)

const (
	apiURL     = "https://api.dropboxapi.com/2"
	contentURL = "https://content.dropboxapi.com/2"
)

// Source lists and downloads one user's Dropbox files.
type Source struct {
	client     *http.Client
	area       *scratch.Area
	pageSize   int
	apiURL     string
	contentURL string
}

// Option configures a Source.
type Option func(*Source)

// WithBaseURLs points the source at another API host (tests).
func WithBaseURLs(api, content string) Option {
	return func(s *Source) {
		s.apiURL = strings.TrimSuffix(api, "/")
		s.contentURL = strings.TrimSuffix(content, "/")
	}
}

func NewSource(client *http.Client, area *scratch.Area, pageSize int, opts ...Option) *Source {
	if pageSize <= 0 {
		pageSize = adapter.DefaultPageSize
	}
	s := &Source{client: client, area: area, pageSize: pageSize, apiURL: apiURL, contentURL: contentURL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Builder returns an adapter.Builder producing Dropbox sources.
func Builder(area *scratch.Area, pageSize int, opts ...Option) adapter.Builder {
	return func(_ context.Context, userID string, client *http.Client) (adapter.RemoteSource, error) {
		return NewSource(client, area.ForUser(userID), pageSize, opts...), nil
	}
}

type entry struct {
	Tag            string    `json:".tag"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PathDisplay    string    `json:"path_display"`
	ServerModified time.Time `json:"server_modified,omitempty"`
	Size           int64     `json:"size,omitempty"`
}

type listResult struct {
	Entries []entry `json:"entries"`
	Cursor  string  `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

type apiError struct {
	ErrorSummary string `json:"error_summary"`
}

// ListPage calls list_folder for a new sequence and list_folder/continue
// with the cursor afterwards.
func (s *Source) ListPage(ctx context.Context, folderRef, cursor string) (*model.Page, error) {
	var (
		endpoint string
		body     any
	)
	if cursor == "" {
		endpoint = s.apiURL + "/files/list_folder"
		body = map[string]any{"path": folderRef, "limit": s.pageSize}
	} else {
		endpoint = s.apiURL + "/files/list_folder/continue"
		body = map[string]string{"cursor": cursor}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list_folder request failed: %w (%v)", adapter.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list_folder", resp)
	}

	var out listResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode list_folder response: %w (%v)", adapter.ErrUnavailable, err)
	}

	page := &model.Page{Entries: make([]model.RemoteEntry, 0, len(out.Entries)), HasMore: out.HasMore}
	if out.HasMore {
		page.NextCursor = out.Cursor
	}
	for _, e := range out.Entries {
		re := model.RemoteEntry{
			ID:           e.ID,
			Name:         e.Name,
			ProviderPath: e.PathDisplay,
			SizeBytes:    e.Size,
			ModifiedAt:   e.ServerModified,
		}
		switch e.Tag {
		case "folder":
			re.Kind = model.KindFolder
		case "file":
			re.Kind = model.KindFile
			re.MIMEType = mime.TypeByExtension(path.Ext(e.Name))
		default:
			// deleted entries only appear in continue results
			continue
		}
		page.Entries = append(page.Entries, re)
	}
	return page, nil
}

// Materialize downloads entry through the content endpoint.
func (s *Source) Materialize(ctx context.Context, e model.RemoteEntry) (*model.LocalMaterializedFile, error) {
	if e.IsFolder() {
		return nil, fmt.Errorf("cannot download folder %s: %w", e.Ref(), adapter.ErrNotFound)
	}
	arg, err := json.Marshal(map[string]string{"path": e.Ref()})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.contentURL+"/files/download", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Dropbox-API-Arg", asciiJSON(arg))

	resp, err := s.client.Do(req)
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
	return s.area.Write(model.Dropbox, e.Name, mimeType, resp.Body)
}

// statusError maps Dropbox errors. Endpoint-specific failures come back as
// 409 with an error_summary such as "path/not_found/..".
func statusError(op string, resp *http.Response) error {
	var apiErr apiError
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	json.Unmarshal(body, &apiErr)

	err := adapter.FromStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusConflict {
		if strings.Contains(apiErr.ErrorSummary, "not_found") {
			err = adapter.ErrNotFound
		} else {
			err = adapter.ErrUnavailable
		}
	}
	return fmt.Errorf("%s failed with status %d (%s): %w", op, resp.StatusCode, apiErr.ErrorSummary, err)
}

// asciiJSON escapes non-ASCII characters; HTTP headers must be ASCII.
func asciiJSON(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r < utf8.RuneSelf {
			sb.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&sb, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(&sb, `\u%04x`, r)
	}
	return sb.String()
}
