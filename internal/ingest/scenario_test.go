package ingest_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/adapter/googledrive"
	"github.com/jun/docpick/internal/auth"
	"github.com/jun/docpick/internal/browse"
	"github.com/jun/docpick/internal/cache"
	"github.com/jun/docpick/internal/crypto"
	"github.com/jun/docpick/internal/docapi"
	"github.com/jun/docpick/internal/ingest"
	"github.com/jun/docpick/internal/model"
	"github.com/jun/docpick/internal/scratch"
	"github.com/jun/docpick/internal/tokenstore"
)

const resumeBody = "%PDF-1.4 five hundred kilobytes of experience"

// driveStub serves a root with one folder "Resumes" holding resume.pdf.
func driveStub(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	var mu sync.Mutex
	downloads := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer drive-access" {
			t.Errorf("Drive request with Authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/files":
			q := r.URL.Query().Get("q")
			var files []map[string]any
			switch {
			case strings.Contains(q, "'root'"):
				files = []map[string]any{{"id": "folder-resumes", "name": "Resumes", "mimeType": "application/vnd.google-apps.folder"}}
			case strings.Contains(q, "'folder-resumes'"):
				files = []map[string]any{{"id": "file-resume", "name": "resume.pdf", "mimeType": "application/pdf", "size": "512000"}}
			default:
				t.Errorf("unexpected query %q", q)
			}
			json.NewEncoder(w).Encode(map[string]any{"files": files})
		case r.URL.Path == "/files/file-resume" && r.URL.Query().Get("alt") == "media":
			mu.Lock()
			downloads++
			mu.Unlock()
			w.Header().Set("Content-Type", "application/pdf")
			io.WriteString(w, resumeBody)
		default:
			t.Errorf("unexpected Drive request %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &downloads
}

type documentAPI struct {
	mu       sync.Mutex
	status   int
	received []map[string]string
}

func (d *documentAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/user-documents" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f, hdr, err := r.FormFile("document")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, _ := io.ReadAll(f)
	f.Close()

	d.mu.Lock()
	d.received = append(d.received, map[string]string{
		"documentType": r.FormValue("documentType"),
		"title":        r.FormValue("title"),
		"filename":     hdr.Filename,
		"body":         string(body),
	})
	status := d.status
	d.mu.Unlock()
	w.WriteHeader(status)
}

type countingViews struct {
	*cache.Views
	counts map[cache.View]int
}

func (c *countingViews) Invalidate(userID string, views ...cache.View) {
	for _, v := range views {
		c.counts[v]++
	}
	c.Views.Invalidate(userID, views...)
}

type scenario struct {
	coord      *ingest.Coordinator
	selections *ingest.Selections
	views      *countingViews
	docs       *documentAPI
	area       *scratch.Area
	downloads  *int
}

// runToSelection connects Google Drive, browses into Resumes and selects
// resume.pdf, leaving it as the user's selection.
func runToSelection(t *testing.T, uploadStatus int) *scenario {
	t.Helper()
	ctx := context.Background()
	drive, downloads := driveStub(t)

	docs := &documentAPI{status: uploadStatus}
	docSrv := httptest.NewServer(docs)
	t.Cleanup(docSrv.Close)

	tokens := tokenstore.New(nil, "", crypto.NewMockEncryptor())
	tok := model.NewProviderToken(model.GoogleDrive, "drive-access", "drive-refresh", time.Now(), time.Hour)
	if err := tokens.Put(ctx, "user-1", tok); err != nil {
		t.Fatal(err)
	}
	conn := auth.NewConnector(
		auth.GoogleConfig("client-id", "http://localhost:8080/providers/callback", nil),
		tokens, auth.NewMemoryPendingStore(),
	)

	area, err := scratch.New(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	sources := adapter.Registry{
		model.GoogleDrive: adapter.NewConnectedProvider(model.GoogleDrive, conn,
			googledrive.Builder(area, 5, option.WithEndpoint(drive.URL+"/"))),
	}

	nav, v, err := browse.NewManager(sources, 0).Open(ctx, "user-1", model.GoogleDrive)
	if err != nil {
		t.Fatalf("open browse session: %v", err)
	}
	if len(v.Entries) != 1 || v.Entries[0].Name != "Resumes" || v.Session.HasMore {
		t.Fatalf("root listing = %+v", v)
	}
	if v, err = nav.Enter(ctx, v.Entries[0].ID); err != nil {
		t.Fatalf("enter Resumes: %v", err)
	}
	if len(v.Entries) != 1 || v.Entries[0].Name != "resume.pdf" {
		t.Fatalf("Resumes listing = %+v", v.Entries)
	}
	sel, _, err := nav.Select(ctx, v.Entries[0].ID)
	if err != nil || sel == nil {
		t.Fatalf("select resume.pdf: %v, %v", sel, err)
	}

	selections := ingest.NewSelections()
	selections.SetRemote("user-1", *sel)
	views := &countingViews{Views: cache.New(time.Minute), counts: map[cache.View]int{}}
	views.Set("user-1", cache.UserDocuments, []docapi.Document{})

	return &scenario{
		coord:      ingest.NewCoordinator(docapi.New(docSrv.URL, docSrv.Client()), sources, area, views, selections, 0),
		selections: selections,
		views:      views,
		docs:       docs,
		area:       area,
		downloads:  downloads,
	}
}

func (s *scenario) submit(t *testing.T) bool {
	t.Helper()
	intent, err := s.selections.Intent("user-1", model.Resume, "")
	if err != nil {
		t.Fatalf("build intent: %v", err)
	}
	if intent.SourceKind != model.GoogleDriveFile {
		t.Fatalf("SourceKind = %s", intent.SourceKind)
	}
	return s.coord.Submit(context.Background(), "user-1", intent)
}

func TestScenario_DriveResumeUpload(t *testing.T) {
	s := runToSelection(t, http.StatusCreated)

	if !s.submit(t) {
		t.Fatal("Submit returned false")
	}
	if *s.downloads != 1 {
		t.Errorf("Drive downloads = %d, want 1", *s.downloads)
	}
	if len(s.docs.received) != 1 {
		t.Fatalf("document API received %d uploads", len(s.docs.received))
	}
	got := s.docs.received[0]
	if got["documentType"] != "RESUME" || got["filename"] != "resume.pdf" || got["body"] != resumeBody || got["title"] != "resume" {
		t.Errorf("upload = %v", got)
	}
	if n := s.views.counts[cache.UserDocuments]; n != 1 {
		t.Errorf("user documents invalidated %d times, want 1", n)
	}
	if _, ok := s.views.Get("user-1", cache.UserDocuments); ok {
		t.Error("user documents view still cached")
	}
	if sel := s.selections.Get("user-1"); sel.Remote != nil {
		t.Error("selection not cleared")
	}
	if entries, _ := os.ReadDir(s.area.ForUser("user-1").Dir(model.GoogleDrive)); len(entries) != 0 {
		t.Errorf("scratch files left: %v", entries)
	}
}

func TestScenario_UploadFailurePreservesState(t *testing.T) {
	s := runToSelection(t, http.StatusInternalServerError)

	if s.submit(t) {
		t.Fatal("Submit returned true on a 500")
	}
	if len(s.views.counts) != 0 {
		t.Errorf("views invalidated on failure: %v", s.views.counts)
	}
	if _, ok := s.views.Get("user-1", cache.UserDocuments); !ok {
		t.Error("user documents view dropped on failure")
	}
	sel := s.selections.Get("user-1")
	if sel.Remote == nil || sel.Remote.Entry.Name != "resume.pdf" {
		t.Errorf("selection after failure = %+v", sel)
	}

	// The user retries by pressing submit again.
	s.docs.mu.Lock()
	s.docs.status = http.StatusCreated
	s.docs.mu.Unlock()
	if !s.submit(t) {
		t.Fatal("retry Submit returned false")
	}
	if n := s.views.counts[cache.UserDocuments]; n != 1 {
		t.Errorf("user documents invalidated %d times after retry", n)
	}
}
