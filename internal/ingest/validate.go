package ingest

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jun/docpick/internal/docapi"
	"github.com/jun/docpick/internal/model"
)

// Validation rules reported in ValidationError.Rule.
const (
	RuleIntent       = "intent"
	RuleDocumentType = "document_type"
	RuleSize         = "size"
	RuleMIMEType     = "mime_type"
	RuleFolder       = "folder"
	RuleLink         = "link"
	RuleTitle        = "title"
	RuleImage        = "image"
)

// DefaultMaxBytes is the largest document accepted for upload.
const DefaultMaxBytes = 10 * 1024 * 1024

// MaxTitleRunes bounds normalized titles.
const MaxTitleRunes = 255

// ValidationError rejects an intent before any network call.
type ValidationError struct {
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Rule, e.Detail)
}

func invalid(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

var allowedMIME = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.google-apps.document":                                    true,
	"application/vnd.oasis.opendocument.text":                                 true,
	"application/rtf": true,
	"text/rtf":        true,
	"text/plain":      true,
}

// Providers often omit or generalize the type; the extension decides then.
var allowedExt = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".odt": true, ".rtf": true, ".txt": true,
}

// AllowedDocument reports whether a file is an accepted document type.
func AllowedDocument(name, mimeType string) bool {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil && mt != "application/octet-stream" {
		return allowedMIME[mt]
	}
	return allowedExt[strings.ToLower(path.Ext(name))]
}

func checkDocument(name, mimeType string, size, maxBytes int64) error {
	if size > maxBytes {
		return invalid(RuleSize, "%q is %d bytes, the limit is %d", name, size, maxBytes)
	}
	if !AllowedDocument(name, mimeType) {
		return invalid(RuleMIMEType, "%q (%s) is not a PDF, Word, OpenDocument, RTF or text file", name, mimeType)
	}
	return nil
}

// CheckRemote validates a remote entry from its listing metadata. Entries
// without a reported size (Drive-native documents) are checked after export.
func CheckRemote(e model.RemoteEntry, maxBytes int64) error {
	if e.IsFolder() {
		return invalid(RuleFolder, "%q is a folder", e.Name)
	}
	return checkDocument(e.Name, e.MIMEType, e.SizeBytes, maxBytes)
}

var (
	driveFilePath = regexp.MustCompile(`^/file/d/[A-Za-z0-9_-]+(/.*)?$`)
	docsPath      = regexp.MustCompile(`^/(document|spreadsheets|presentation)/d/[A-Za-z0-9_-]+(/.*)?$`)
	dropboxPath   = regexp.MustCompile(`^/(s|scl/fi)/[A-Za-z0-9_-]+/[^/]+$`)
)

// CheckLink matches raw against the known Google Drive, Google Docs and
// Dropbox share-link shapes and returns its documentUrlType.
func CheckLink(raw string) (docapi.LinkType, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", invalid(RuleLink, "%q is not an https link", raw)
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "drive.google.com":
		if driveFilePath.MatchString(u.Path) {
			return docapi.LinkGoogleDrive, nil
		}
		if (u.Path == "/open" || u.Path == "/uc") && u.Query().Get("id") != "" {
			return docapi.LinkGoogleDrive, nil
		}
	case "docs.google.com":
		if docsPath.MatchString(u.Path) {
			return docapi.LinkGoogleDrive, nil
		}
	case "dropbox.com", "www.dropbox.com", "dl.dropboxusercontent.com":
		if dropboxPath.MatchString(u.Path) {
			return docapi.LinkDropbox, nil
		}
	}
	return "", invalid(RuleLink, "%q is not a Google Drive or Dropbox share link", raw)
}

// NormalizeTitle trims and collapses whitespace, falls back to fileName
// without its extension, and truncates to MaxTitleRunes.
func NormalizeTitle(title, fileName string) (string, error) {
	t := strings.Join(strings.Fields(title), " ")
	if t == "" {
		base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
		if base == "." || base == "/" {
			base = ""
		}
		t = strings.Join(strings.Fields(strings.TrimSuffix(base, path.Ext(base))), " ")
	}
	if t == "" {
		return "", invalid(RuleTitle, "a title is required")
	}
	if utf8.RuneCountInString(t) > MaxTitleRunes {
		t = strings.TrimSpace(string([]rune(t)[:MaxTitleRunes]))
	}
	return t, nil
}
