// Package scratch manages the local directory that remote files are
// downloaded into before upload. Files live under <root>/<user>/<provider>.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jun/docpick/internal/model"
)

// ErrTooLarge is returned when a download exceeds the area's byte limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// Area is a scratch directory root, optionally scoped to one user.
type Area struct {
	root     string
	user     string
	maxBytes int64
}

// New creates root if needed. maxBytes <= 0 disables the size guard.
func New(root string, maxBytes int64) (*Area, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Area{root: abs, maxBytes: maxBytes}, nil
}

// ForUser returns the area scoped to userID. It shares the root and the
// size limit, so Remove on either area accepts the other's files.
func (a *Area) ForUser(userID string) *Area {
	return &Area{root: a.root, user: cleanName(userID), maxBytes: a.maxBytes}
}

// Dir returns the provider subdirectory of the area's user.
func (a *Area) Dir(p model.Provider) string {
	if a.user == "" {
		return filepath.Join(a.root, p.Slug())
	}
	return filepath.Join(a.root, a.user, p.Slug())
}

// cleanName keeps the last path element and drops characters that are
// unsafe in file names.
func cleanName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}

// Write streams r into Dir(p)/<name>. A file of the same name is removed
// first, so the last writer of one user wins. On any failure the partial
// file is removed.
func (a *Area) Write(p model.Provider, name, mimeType string, r io.Reader) (*model.LocalMaterializedFile, error) {
	dir := a.Dir(p)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create provider dir: %w", err)
	}
	name = cleanName(name)
	path := filepath.Join(dir, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}

	src := r
	if a.maxBytes > 0 {
		src = io.LimitReader(r, a.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && a.maxBytes > 0 && n > a.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write scratch file: %w", err)
	}

	return &model.LocalMaterializedFile{
		Path:        path,
		DisplayName: name,
		MIMEType:    mimeType,
		Size:        n,
	}, nil
}

// Remove deletes a file previously returned by Write. Paths outside the
// area are refused.
func (a *Area) Remove(path string) error {
	rel, err := filepath.Rel(a.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q is outside the scratch area", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
