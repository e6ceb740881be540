package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/jun/docpick/internal/docapi"
	"github.com/jun/docpick/internal/model"
)

func TestCheckLink(t *testing.T) {
	tests := []struct {
		url  string
		want docapi.LinkType
		ok   bool
	}{
		{"https://drive.google.com/file/d/1a2B3c_-/view?usp=sharing", docapi.LinkGoogleDrive, true},
		{"https://drive.google.com/open?id=1a2B3c", docapi.LinkGoogleDrive, true},
		{"https://drive.google.com/uc?id=1a2B3c&export=download", docapi.LinkGoogleDrive, true},
		{"https://docs.google.com/document/d/1a2B3c/edit", docapi.LinkGoogleDrive, true},
		{"  https://docs.google.com/document/d/1a2B3c  ", docapi.LinkGoogleDrive, true},
		{"https://www.dropbox.com/s/abc123/resume.pdf?dl=0", docapi.LinkDropbox, true},
		{"https://www.dropbox.com/scl/fi/abc123/resume.pdf?rlkey=xyz", docapi.LinkDropbox, true},
		{"https://dl.dropboxusercontent.com/s/abc123/resume.pdf", docapi.LinkDropbox, true},
		{"http://drive.google.com/file/d/1a2B3c/view", "", false},
		{"https://drive.google.com/drive/folders/1a2B3c", "", false},
		{"https://drive.google.com/open", "", false},
		{"https://www.dropbox.com/home", "", false},
		{"https://evil.example/file/d/1a2B3c", "", false},
		{"https://drive.google.com.evil.example/file/d/1a2B3c", "", false},
		{"not a url", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := CheckLink(tt.url)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("CheckLink(%q) = %q, %v; want %q", tt.url, got, err, tt.want)
			}
			continue
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Rule != RuleLink {
			t.Errorf("CheckLink(%q) err = %v, want link rule", tt.url, err)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	long := strings.Repeat("é", 300)
	tests := []struct {
		title, file, want string
	}{
		{"  Senior   Engineer\tCV ", "x.pdf", "Senior Engineer CV"},
		{"", "Resume 2026.pdf", "Resume 2026"},
		{"   ", "dir/sub/cover letter.docx", "cover letter"},
		{"", "archive.tar.gz", "archive.tar"},
		{"", "README", "README"},
		{long, "", strings.Repeat("é", MaxTitleRunes)},
	}
	for _, tt := range tests {
		got, err := NormalizeTitle(tt.title, tt.file)
		if err != nil || got != tt.want {
			t.Errorf("NormalizeTitle(%q, %q) = %q, %v; want %q", tt.title, tt.file, got, err, tt.want)
		}
	}

	if _, err := NormalizeTitle(" ", ""); err == nil {
		t.Error("empty title and file name accepted")
	}
}

func TestAllowedDocument(t *testing.T) {
	tests := []struct {
		name, mime string
		want       bool
	}{
		{"a.pdf", "application/pdf", true},
		{"a.doc", "application/msword", true},
		{"a.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", true},
		{"Draft", "application/vnd.google-apps.document", true},
		{"a.odt", "application/vnd.oasis.opendocument.text", true},
		{"a.rtf", "text/rtf", true},
		{"a.txt", "text/plain; charset=utf-8", true},
		{"a.docx", "", true},
		{"a.docx", "application/octet-stream", true},
		{"a.png", "image/png", false},
		{"a.pdf", "image/png", false},
		{"a.exe", "", false},
		{"Sheet", "application/vnd.google-apps.spreadsheet", false},
	}
	for _, tt := range tests {
		if got := AllowedDocument(tt.name, tt.mime); got != tt.want {
			t.Errorf("AllowedDocument(%q, %q) = %v, want %v", tt.name, tt.mime, got, tt.want)
		}
	}
}

func TestCheckRemote_UnknownSizeDeferred(t *testing.T) {
	e := model.RemoteEntry{ID: "d", Name: "Draft", Kind: model.KindFile, MIMEType: "application/vnd.google-apps.document"}
	if err := CheckRemote(e, DefaultMaxBytes); err != nil {
		t.Errorf("native doc without size rejected: %v", err)
	}
}

func TestSelectionIntent(t *testing.T) {
	link := "https://www.dropbox.com/s/abc/cv.pdf"
	file := &model.LocalFile{Name: "cv.pdf", MIMEType: "application/pdf"}
	remote := &model.RemoteSelection{Provider: model.OneDrive, Entry: model.RemoteEntry{ID: "1", Name: "cv.pdf", Kind: model.KindFile}}

	tests := []struct {
		name string
		sel  Selection
		kind model.SourceKind
		err  error
	}{
		{"empty", Selection{}, "", ErrEmptySelection},
		{"file", Selection{File: file}, model.DirectUpload, nil},
		{"image", Selection{Image: file}, model.ImageUpload, nil},
		{"link", Selection{Link: &link}, model.LinkInput, nil},
		{"remote", Selection{Remote: remote}, model.OneDriveFile, nil},
		{"file and link", Selection{File: file, Link: &link}, "", ErrAmbiguousSelection},
		{"image and remote", Selection{Image: file, Remote: remote}, "", ErrAmbiguousSelection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := tt.sel.Intent(model.Resume, "CV")
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if err != nil {
				return
			}
			if in.SourceKind != tt.kind || in.DocumentType != model.Resume || in.Title != "CV" {
				t.Errorf("intent = %+v", in)
			}
			if err := in.Validate(); err != nil {
				t.Errorf("built intent does not validate: %v", err)
			}
		})
	}
}

func TestSelections_UpdateAndClear(t *testing.T) {
	s := NewSelections()
	link := "https://www.dropbox.com/s/abc/cv.pdf"
	s.Update("u", func(sel *Selection) { sel.Link = &link })
	if got := s.Get("u"); got.Link == nil {
		t.Fatal("link not stored")
	}
	s.Update("u", func(sel *Selection) { sel.Link = nil })
	if got := s.Get("u"); !got.empty() {
		t.Errorf("selection after unset = %+v", got)
	}
	s.SetRemote("u", model.RemoteSelection{Provider: model.Dropbox})
	s.Clear("u")
	if got := s.Get("u"); !got.empty() {
		t.Errorf("selection after Clear = %+v", got)
	}
}
