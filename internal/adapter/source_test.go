package adapter_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jun/docpick/internal/adapter"
	"github.com/jun/docpick/internal/model"
)

type fakeAccess struct{ ok bool }

func (f fakeAccess) EnsureAccess(context.Context, string) (*http.Client, bool) {
	if !f.ok {
		return nil, false
	}
	return http.DefaultClient, true
}

type stubSource struct{ err error }

func (s stubSource) ListPage(context.Context, string, string) (*model.Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.Page{}, nil
}

func (s stubSource) Materialize(context.Context, model.RemoteEntry) (*model.LocalMaterializedFile, error) {
	return nil, s.err
}

func TestConnectedProvider_NotConnected(t *testing.T) {
	built := false
	p := adapter.NewConnectedProvider(model.Dropbox, fakeAccess{ok: false}, func(context.Context, string, *http.Client) (adapter.RemoteSource, error) {
		built = true
		return stubSource{}, nil
	})

	if _, err := p.Source(context.Background(), "u1"); !errors.Is(err, adapter.ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if built {
		t.Error("Source must not be built without access")
	}
}

func TestConnectedProvider_PassesUser(t *testing.T) {
	var got string
	p := adapter.NewConnectedProvider(model.Dropbox, fakeAccess{ok: true}, func(_ context.Context, userID string, _ *http.Client) (adapter.RemoteSource, error) {
		got = userID
		return stubSource{}, nil
	})
	if _, err := p.Source(context.Background(), "u1"); err != nil {
		t.Fatalf("Source failed: %v", err)
	}
	if got != "u1" {
		t.Errorf("Builder got user %q, want u1", got)
	}
}

type scopedSource struct {
	stubSource
	users *[]string
}

func (s scopedSource) ForUser(userID string) adapter.RemoteSource {
	*s.users = append(*s.users, userID)
	return s.stubSource
}

func TestStaticProvider_ScopesToUser(t *testing.T) {
	var users []string
	p := adapter.NewStaticProvider(model.OneDrive, scopedSource{users: &users})
	for _, u := range []string{"u1", "u2"} {
		if _, err := p.Source(context.Background(), u); err != nil {
			t.Fatalf("Source(%s) failed: %v", u, err)
		}
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Errorf("ForUser calls = %v, want [u1 u2]", users)
	}
}

func TestInstrument_NormalizesErrors(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"provider type", fmt.Errorf("dropbox: %s", "weird 418"), adapter.ErrUnavailable},
		{"wrapped not found", fmt.Errorf("get: %w", adapter.ErrNotFound), adapter.ErrNotFound},
		{"unauthorized", adapter.ErrUnauthorized, adapter.ErrUnauthorized},
		{"cancelled", context.Canceled, adapter.ErrUnavailable},
		{"too large", fmt.Errorf("write scratch file: %w", adapter.ErrTooLarge), adapter.ErrTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := adapter.Instrument(model.OneDrive, stubSource{err: tc.in})
			if _, err := src.ListPage(context.Background(), adapter.RootRef, ""); !errors.Is(err, tc.want) {
				t.Errorf("ListPage error = %v, want %v", err, tc.want)
			}
			if f, err := src.Materialize(context.Background(), model.RemoteEntry{ID: "x"}); f != nil || !errors.Is(err, tc.want) {
				t.Errorf("Materialize = %v, %v; want nil, %v", f, err, tc.want)
			}
		})
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, adapter.ErrUnauthorized},
		{http.StatusForbidden, adapter.ErrUnauthorized},
		{http.StatusNotFound, adapter.ErrNotFound},
		{http.StatusTooManyRequests, adapter.ErrUnavailable},
		{http.StatusInternalServerError, adapter.ErrUnavailable},
	}
	for _, tc := range tests {
		if got := adapter.FromStatus(tc.code); got != tc.want {
			t.Errorf("FromStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := adapter.Registry{model.Dropbox: adapter.NewStaticProvider(model.Dropbox, stubSource{})}
	if _, err := reg.Source(context.Background(), model.OneDrive, "u1"); err == nil {
		t.Error("Expected error for unregistered provider")
	}
	if _, err := reg.Source(context.Background(), model.Dropbox, "u1"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPDFName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"My CV", "My CV.pdf"},
		{"Report v1.2", "Report v1.2.pdf"},
		{"notes.draft", "notes.draft.pdf"},
		{"Already.PDF", "Already.PDF"},
		{"cv.pdf", "cv.pdf"},
	}
	for _, tc := range tests {
		if got := adapter.PDFName(tc.in); got != tc.want {
			t.Errorf("PDFName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
