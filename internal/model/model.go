package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider identifies an external OAuth-backed service.
type Provider string

const (
	GoogleDrive Provider = "GOOGLE_DRIVE"
	Dropbox     Provider = "DROPBOX"
	OneDrive    Provider = "ONEDRIVE"
	Zoom        Provider = "ZOOM"
)

// Providers lists every known provider in display order.
var Providers = []Provider{GoogleDrive, Dropbox, OneDrive, Zoom}

// ParseProvider accepts the canonical name or a URL-friendly alias
// ("google-drive", "gdrive", "dropbox", "onedrive", "zoom").
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "-")) {
	case "google-drive", "googledrive", "gdrive", "google":
		return GoogleDrive, nil
	case "dropbox":
		return Dropbox, nil
	case "onedrive", "one-drive":
		return OneDrive, nil
	case "zoom":
		return Zoom, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Slug returns the lowercase path segment used in URLs and scratch directories.
func (p Provider) Slug() string {
	return strings.ToLower(strings.ReplaceAll(string(p), "_", "-"))
}

// ProviderToken is the OAuth token pair persisted per user and provider.
type ProviderToken struct {
	Provider     Provider  `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	// RefreshExpiresAt is zero when the provider did not report a refresh-token TTL.
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// NewProviderToken derives ExpiresAt from the grant's expires_in.
func NewProviderToken(p Provider, access, refresh string, issuedAt time.Time, expiresIn time.Duration) ProviderToken {
	return ProviderToken{
		Provider:     p,
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(expiresIn),
	}
}

// AccessValid reports whether the access token is usable at now.
func (t ProviderToken) AccessValid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// RefreshValid reports whether the refresh token can still be redeemed at now.
func (t ProviderToken) RefreshValid(now time.Time) bool {
	if t.RefreshToken == "" {
		return false
	}
	return t.RefreshExpiresAt.IsZero() || now.Before(t.RefreshExpiresAt)
}

// EntryKind distinguishes files from folders in a remote listing.
type EntryKind string

const (
	KindFile   EntryKind = "file"
	KindFolder EntryKind = "folder"
)

// RemoteEntry is one normalized item of a remote directory listing.
type RemoteEntry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Kind         EntryKind `json:"kind"`
	MIMEType     string    `json:"mimeType,omitempty"`
	SizeBytes    int64     `json:"sizeBytes,omitempty"`
	ModifiedAt   time.Time `json:"modifiedAt,omitempty"`
	ProviderPath string    `json:"providerPath,omitempty"`
	// DownloadURL is pre-authenticated and short lived (OneDrive only). Never log it.
	DownloadURL string `json:"-"`
}

// IsFolder reports whether the entry can be navigated into.
func (e RemoteEntry) IsFolder() bool { return e.Kind == KindFolder }

// Ref is the folder reference pushed on a BrowseSession path stack.
func (e RemoteEntry) Ref() string {
	if e.ProviderPath != "" {
		return e.ProviderPath
	}
	return e.ID
}

// Page is one page of a remote directory listing.
type Page struct {
	Entries    []RemoteEntry `json:"entries"`
	NextCursor string        `json:"nextCursor,omitempty"`
	HasMore    bool          `json:"hasMore"`
}

// BrowseSession tracks the folder path and pagination position of one picker.
type BrowseSession struct {
	ID        string   `json:"id"`
	UserID    string   `json:"-"`
	Provider  Provider `json:"provider"`
	PathStack []string `json:"pathStack"`
	Cursor    string   `json:"cursor,omitempty"`
	HasMore   bool     `json:"hasMore"`
}

// CurrentFolder returns the top of the path stack.
func (s BrowseSession) CurrentFolder() string {
	return s.PathStack[len(s.PathStack)-1]
}

// LocalMaterializedFile is a remote file written to the scratch area.
type LocalMaterializedFile struct {
	Path        string `json:"path"`
	DisplayName string `json:"displayName"`
	MIMEType    string `json:"mimeType"`
	Size        int64  `json:"size"`
}

// LocalFile is a device file (or captured image) handed to the upload pipeline.
type LocalFile struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Content  []byte `json:"content"`
}

// SourceKind discriminates UploadIntent payloads.
type SourceKind string

const (
	DirectUpload    SourceKind = "DIRECT_UPLOAD"
	ImageUpload     SourceKind = "IMAGE_UPLOAD"
	LinkInput       SourceKind = "LINK_INPUT"
	GoogleDriveFile SourceKind = "GOOGLE_DRIVE"
	DropboxFile     SourceKind = "DROPBOX"
	OneDriveFile    SourceKind = "ONEDRIVE"
)

// RemoteKind maps a storage provider to its upload source kind.
func RemoteKind(p Provider) (SourceKind, bool) {
	switch p {
	case GoogleDrive:
		return GoogleDriveFile, true
	case Dropbox:
		return DropboxFile, true
	case OneDrive:
		return OneDriveFile, true
	}
	return "", false
}

// Provider returns the storage provider of a remote source kind.
func (k SourceKind) Provider() (Provider, bool) {
	switch k {
	case GoogleDriveFile:
		return GoogleDrive, true
	case DropboxFile:
		return Dropbox, true
	case OneDriveFile:
		return OneDrive, true
	}
	return "", false
}

// DocumentType is the backing API's category for an uploaded document.
type DocumentType string

const (
	Resume      DocumentType = "RESUME"
	CoverLetter DocumentType = "COVER_LETTER"
	Certificate DocumentType = "CERTIFICATE"
	Portfolio   DocumentType = "PORTFOLIO"
	OtherDoc    DocumentType = "OTHER"
)

// Valid reports whether d is a known document type.
func (d DocumentType) Valid() bool {
	switch d {
	case Resume, CoverLetter, Certificate, Portfolio, OtherDoc:
		return true
	}
	return false
}

// RemoteSelection is a remote file picked in a BrowseSession.
type RemoteSelection struct {
	Provider Provider    `json:"provider"`
	Entry    RemoteEntry `json:"entry"`
}

// UploadIntent is the tagged union submitted to the ingestion coordinator.
// Exactly one of Local, Link or Remote is set, matching SourceKind.
type UploadIntent struct {
	SourceKind   SourceKind       `json:"sourceKind"`
	DocumentType DocumentType     `json:"documentType"`
	Title        string           `json:"title"`
	Local        *LocalFile       `json:"local,omitempty"`
	Link         *string          `json:"link,omitempty"`
	Remote       *RemoteSelection `json:"remote,omitempty"`
}

// ErrInvalidIntent is wrapped by UploadIntent.Validate.
var ErrInvalidIntent = errors.New("invalid upload intent")

// Validate checks that exactly one payload is set and that it matches SourceKind.
func (i UploadIntent) Validate() error {
	n := 0
	for _, set := range []bool{i.Local != nil, i.Link != nil, i.Remote != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: %d payloads set, want exactly one", ErrInvalidIntent, n)
	}
	switch i.SourceKind {
	case DirectUpload, ImageUpload:
		if i.Local == nil {
			return fmt.Errorf("%w: %s needs a local file", ErrInvalidIntent, i.SourceKind)
		}
	case LinkInput:
		if i.Link == nil {
			return fmt.Errorf("%w: %s needs a link", ErrInvalidIntent, i.SourceKind)
		}
	case GoogleDriveFile, DropboxFile, OneDriveFile:
		p, _ := i.SourceKind.Provider()
		if i.Remote == nil || i.Remote.Provider != p {
			return fmt.Errorf("%w: %s needs a %s selection", ErrInvalidIntent, i.SourceKind, p)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalidIntent, i.SourceKind)
	}
	return nil
}

// PendingAuthorization is an in-flight PKCE authorization, keyed by state.
type PendingAuthorization struct {
	State        string   `json:"state" dynamodbav:"state"`
	UserID       string   `json:"user_id" dynamodbav:"user_id"`
	Provider     Provider `json:"provider" dynamodbav:"provider"`
	CodeVerifier string   `json:"-" dynamodbav:"code_verifier"`
	ExpiresAt    int64    `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}
