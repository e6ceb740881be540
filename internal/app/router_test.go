package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jun/docpick/internal/browse"
	"github.com/jun/docpick/internal/config"
)

const testSecret = "router-test-secret"

func newTestApp(t *testing.T) (*App, *atomic.Int32) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)

	var uploads atomic.Int32
	docs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/user-documents" {
			uploads.Add(1)
			w.WriteHeader(http.StatusCreated)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(docs.Close)

	cfg := &config.Config{
		DevMode:         true,
		FrontendURL:     "http://localhost:3000",
		RedirectURL:     "http://localhost:8080/providers/callback",
		DocumentAPI:     docs.URL,
		DropboxClientID: "dbx-client",
		JWTSecretParam:  "/docpick/jwt-secret",
		ScratchDir:      t.TempDir(),
		PageSize:        5,
		HTTPTimeout:     5 * time.Second,
		CacheTTL:        time.Minute,
		SessionIdle:     time.Minute,
		MaxFileBytes:    1 << 20,
	}
	a, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return a, &uploads
}

func call(t *testing.T, a *App, method, path, body string) events.APIGatewayProxyResponse {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "router-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte(testSecret))
	resp, err := a.HandleRequest(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers:    map[string]string{"Authorization": "Bearer " + signed},
	})
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestMatch(t *testing.T) {
	params := map[string]string{}
	if !match("/browse/sessions/{id}/enter", "/browse/sessions/abc/enter", params) || params["id"] != "abc" {
		t.Errorf("params = %v", params)
	}
	for _, path := range []string{"/browse/sessions/abc", "/browse/sessions//enter", "/browse/other/abc/enter"} {
		p := map[string]string{}
		if match("/browse/sessions/{id}/enter", path, p) {
			t.Errorf("%q matched", path)
		}
		if len(p) != 0 {
			t.Errorf("%q bound %v on a failed match", path, p)
		}
	}
}

func TestHandleRequest_BrowseSelectUpload(t *testing.T) {
	a, uploads := newTestApp(t)

	resp := call(t, a, "POST", "/api/browse/google-drive", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open = %d %s", resp.StatusCode, resp.Body)
	}
	if resp.Headers["Access-Control-Allow-Origin"] != "http://localhost:3000" || resp.Headers["X-Request-ID"] == "" {
		t.Errorf("headers = %v", resp.Headers)
	}
	var v browse.View
	if err := json.Unmarshal([]byte(resp.Body), &v); err != nil {
		t.Fatal(err)
	}
	if len(v.Entries) != 5 || !v.Session.HasMore {
		t.Fatalf("first page = %d entries, hasMore %v", len(v.Entries), v.Session.HasMore)
	}

	var resumeID string
	for _, e := range v.Entries {
		if e.Name == "Resume 2026.pdf" {
			resumeID = e.ID
		}
	}
	if resumeID == "" {
		t.Fatalf("resume not on the first page: %+v", v.Entries)
	}

	base := "/api/browse/sessions/" + v.Session.ID
	if resp := call(t, a, "POST", base+"/more", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("more = %d %s", resp.StatusCode, resp.Body)
	}
	if resp := call(t, a, "POST", base+"/select", `{"entryId":"`+resumeID+`"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("select = %d %s", resp.StatusCode, resp.Body)
	}
	resp = call(t, a, "GET", "/api/uploads/selection", "")
	if !strings.Contains(resp.Body, "Resume 2026.pdf") {
		t.Errorf("selection = %s", resp.Body)
	}

	resp = call(t, a, "POST", "/api/uploads", `{"documentType":"RESUME"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload = %d %s", resp.StatusCode, resp.Body)
	}
	if uploads.Load() != 1 {
		t.Errorf("document API uploads = %d", uploads.Load())
	}

	if resp := call(t, a, "DELETE", base, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("close = %d", resp.StatusCode)
	}
}

func TestHandleRequest_Providers(t *testing.T) {
	a, _ := newTestApp(t)

	resp := call(t, a, "GET", "/providers", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Body, `"DROPBOX"`) {
		t.Errorf("providers = %d %s", resp.StatusCode, resp.Body)
	}
	resp = call(t, a, "GET", "/providers/dropbox/connect", "")
	if resp.StatusCode != http.StatusFound || !strings.Contains(resp.Headers["Location"], "code_challenge=") {
		t.Errorf("connect = %d %v", resp.StatusCode, resp.Headers)
	}
}

func TestHandleRequest_NotFoundAndPreflight(t *testing.T) {
	a, _ := newTestApp(t)

	if resp := call(t, a, "GET", "/api/nothing", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path = %d", resp.StatusCode)
	}
	if resp := call(t, a, "PATCH", "/uploads", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("wrong method = %d", resp.StatusCode)
	}
	resp := call(t, a, "OPTIONS", "/uploads", "")
	if resp.StatusCode != http.StatusNoContent || resp.Headers["Access-Control-Allow-Methods"] == "" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Headers)
	}
}

func TestHandleRequest_OriginVerify(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.DevMode = false
	a.apiGatewaySecret = "origin-secret"

	if resp := call(t, a, "GET", "/providers", ""); resp.StatusCode != http.StatusForbidden {
		t.Errorf("missing header = %d", resp.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()})
	signed, _ := token.SignedString([]byte(testSecret))
	resp, _ := a.HandleRequest(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: "GET",
		Path:       "/providers",
		Headers:    map[string]string{"x-origin-verify": "origin-secret", "Authorization": "Bearer " + signed},
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("verified request = %d %s", resp.StatusCode, resp.Body)
	}
}
