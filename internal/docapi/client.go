// Package docapi is a client for the job board's user-documents API.
package docapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/jun/docpick/internal/model"
)

// ErrUnexpectedStatus wraps every non-success answer of the API.
var ErrUnexpectedStatus = errors.New("unexpected status from document API")

// StatusError carries the status and a bounded prefix of the body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("document API answered %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Multipart field names accepted by POST /user-documents.
const (
	FieldDocument      = "document"
	FieldDocumentImage = "documentImage"
)

// LinkType is the documentUrlType of a link submission.
type LinkType string

const (
	LinkGoogleDrive LinkType = "GOOGLE_DRIVE"
	LinkDropbox     LinkType = "DROPBOX"
)

// Upload is one multipart document submission.
type Upload struct {
	Field        string
	FileName     string
	MIMEType     string
	Content      io.Reader
	DocumentType model.DocumentType
	Title        string
}

// Link is one link-reference submission.
type Link struct {
	URL          string             `json:"documentLink"`
	DocumentType model.DocumentType `json:"documentType"`
	Title        string             `json:"documentTitle"`
	URLType      LinkType           `json:"documentUrlType"`
}

// Document is one entry of GET /user-documents.
type Document struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	DocumentType model.DocumentType `json:"documentType"`
	URL          string             `json:"url,omitempty"`
	CreatedAt    time.Time          `json:"createdAt,omitempty"`
}

type bearerKey struct{}

// WithBearer attaches the caller's session token; requests made with the
// returned context forward it as Authorization: Bearer.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey{}, token)
}

func bearer(ctx context.Context) string {
	s, _ := ctx.Value(bearerKey{}).(string)
	return s
}

// Client talks to the backing API at BaseURL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client. A nil httpClient gets a 30 second timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// Upload posts a multipart document. Only 201 is success.
func (c *Client) Upload(ctx context.Context, u Upload) error {
	if u.Field != FieldDocument && u.Field != FieldDocumentImage {
		return fmt.Errorf("invalid multipart field %q", u.Field)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("documentType", string(u.DocumentType)); err != nil {
		return err
	}
	if err := mw.WriteField("title", u.Title); err != nil {
		return err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", multipart.FileContentDisposition(u.Field, u.FileName))
	h.Set("Content-Type", u.MIMEType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, u.Content); err != nil {
		return fmt.Errorf("read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/user-documents", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.expectCreated(req)
}

// SubmitLink posts a link reference. Only 201 is success.
func (c *Client) SubmitLink(ctx context.Context, l Link) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/user-documents/link", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.expectCreated(req)
}

// ListDocuments returns the user's documents.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/user-documents", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var docs []Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if tok := bearer(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func (c *Client) expectCreated(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
