package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoad_CachesUntilTTL(t *testing.T) {
	v := New(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	loads := 0
	load := func(context.Context) ([]string, error) {
		loads++
		return []string{"cv.pdf"}, nil
	}
	ctx := context.Background()

	for range 3 {
		got, err := Load(ctx, v, "user-1", UserDocuments, load)
		if err != nil || len(got) != 1 {
			t.Fatalf("Load = %v, %v", got, err)
		}
	}
	if loads != 1 {
		t.Errorf("loads = %d, want 1", loads)
	}

	now = now.Add(2 * time.Minute)
	if _, err := Load(ctx, v, "user-1", UserDocuments, load); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Errorf("loads after expiry = %d, want 2", loads)
	}
}

func TestLoad_ErrorNotCached(t *testing.T) {
	v := New(time.Minute)
	boom := errors.New("boom")
	if _, err := Load(context.Background(), v, "u", Skills, func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := v.Get("u", Skills); ok {
		t.Error("failed load was cached")
	}
}

func TestInvalidate_OnlyNamedViewsOfUser(t *testing.T) {
	v := New(time.Minute)
	for _, view := range []View{UserDocuments, Skills, Education, Experience} {
		v.Set("user-1", view, 1)
		v.Set("user-2", view, 1)
	}

	v.Invalidate("user-1", UserDocuments)

	if _, ok := v.Get("user-1", UserDocuments); ok {
		t.Error("user-documents still cached")
	}
	for _, view := range ResumeDerived {
		if _, ok := v.Get("user-1", view); !ok {
			t.Errorf("%s dropped without being named", view)
		}
	}
	if _, ok := v.Get("user-2", UserDocuments); !ok {
		t.Error("another user's view was dropped")
	}
}
