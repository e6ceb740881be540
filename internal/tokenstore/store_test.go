package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/docpick/internal/crypto"
	"github.com/jun/docpick/internal/model"
)

type fakeDynamo struct {
	items   map[string]map[string]types.AttributeValue
	failGet bool
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(m map[string]types.AttributeValue) string {
	u := m["user_id"].(*types.AttributeValueMemberS).Value
	p := m["provider"].(*types.AttributeValueMemberS).Value
	return u + "|" + p
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.failGet {
		return nil, errors.New("throttled")
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStore_AccessValidityWindow(t *testing.T) {
	for _, tc := range []struct {
		name string
		db   DynamoDBAPI
	}{
		{"memory", nil},
		{"dynamodb", newFakeDynamo()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := &clock{t: t0}
			s := New(tc.db, "tokens", crypto.NewMockEncryptor(), WithClock(c.now))
			ctx := context.Background()

			tok := model.NewProviderToken(model.Dropbox, "at", "", t0, 4*time.Hour)
			if err := s.Put(ctx, "u1", tok); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			c.t = t0.Add(4*time.Hour - time.Second)
			if !s.IsAccessValid(ctx, "u1", model.Dropbox) {
				t.Error("Expected access valid before expiry")
			}
			c.t = t0.Add(4 * time.Hour)
			if s.IsAccessValid(ctx, "u1", model.Dropbox) {
				t.Error("Expected access invalid at expiry")
			}
			if s.IsRefreshValid(ctx, "u1", model.Dropbox) {
				t.Error("Expected no refresh validity without a refresh token")
			}
		})
	}
}

func TestStore_RefreshExpiry(t *testing.T) {
	c := &clock{t: t0}
	s := New(nil, "tokens", crypto.NewMockEncryptor(), WithClock(c.now))
	ctx := context.Background()

	tok := model.NewProviderToken(model.GoogleDrive, "at", "rt", t0, time.Hour)
	tok.RefreshExpiresAt = t0.Add(7 * 24 * time.Hour)
	s.Put(ctx, "u1", tok)

	c.t = t0.Add(2 * time.Hour)
	if !s.IsRefreshValid(ctx, "u1", model.GoogleDrive) {
		t.Error("Expected refresh valid inside its TTL")
	}
	c.t = t0.Add(8 * 24 * time.Hour)
	if s.IsRefreshValid(ctx, "u1", model.GoogleDrive) {
		t.Error("Expected refresh invalid after its TTL")
	}
}

func TestStore_OneRecordPerProvider(t *testing.T) {
	db := newFakeDynamo()
	s := New(db, "tokens", crypto.NewMockEncryptor(), WithClock((&clock{t: t0}).now))
	ctx := context.Background()

	s.Put(ctx, "u1", model.NewProviderToken(model.OneDrive, "first", "r1", t0, time.Hour))
	s.Put(ctx, "u1", model.NewProviderToken(model.OneDrive, "second", "r2", t0, time.Hour))
	s.Put(ctx, "u1", model.NewProviderToken(model.Zoom, "zoom", "rz", t0, time.Hour))

	if len(db.items) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(db.items))
	}
	got := s.Get(ctx, "u1", model.OneDrive)
	if got == nil || got.AccessToken != "second" || got.RefreshToken != "r2" {
		t.Fatalf("Expected replaced OneDrive token, got %+v", got)
	}
	if !got.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("Expected expiry %v, got %v", t0.Add(time.Hour), got.ExpiresAt)
	}
}

func TestStore_TokensEncryptedAtRest(t *testing.T) {
	db := newFakeDynamo()
	s := New(db, "tokens", crypto.NewMockEncryptor())
	s.Put(context.Background(), "u1", model.NewProviderToken(model.Zoom, "at", "rt", t0, time.Hour))

	item := db.items["u1|ZOOM"]
	enc := item["encrypted_access_token"].(*types.AttributeValueMemberS).Value
	if enc != "mock:u1/ZOOM:at" {
		t.Errorf("Expected scoped ciphertext, got %q", enc)
	}
}

func TestStore_ClearAndMissing(t *testing.T) {
	s := New(nil, "tokens", crypto.NewMockEncryptor())
	ctx := context.Background()

	if s.Get(ctx, "nobody", model.Dropbox) != nil {
		t.Error("Expected nil for missing token")
	}
	s.Put(ctx, "u1", model.NewProviderToken(model.Dropbox, "at", "", time.Now(), time.Hour))
	s.Clear(ctx, "u1", model.Dropbox)
	if s.Get(ctx, "u1", model.Dropbox) != nil {
		t.Error("Expected nil after Clear")
	}
	if s.IsAccessValid(ctx, "u1", model.Dropbox) {
		t.Error("Expected access invalid after Clear")
	}
}

func TestStore_DegradesOnReadFailure(t *testing.T) {
	db := newFakeDynamo()
	s := New(db, "tokens", crypto.NewMockEncryptor())
	ctx := context.Background()
	s.Put(ctx, "u1", model.NewProviderToken(model.Dropbox, "at", "", time.Now(), time.Hour))

	db.failGet = true
	if s.Get(ctx, "u1", model.Dropbox) != nil {
		t.Error("Expected nil when the backend fails")
	}
	if s.IsAccessValid(ctx, "u1", model.Dropbox) {
		t.Error("Expected false when the backend fails")
	}
}

func TestStore_DegradesOnDecryptFailure(t *testing.T) {
	db := newFakeDynamo()
	s := New(db, "tokens", crypto.NewMockEncryptor())
	ctx := context.Background()
	s.Put(ctx, "u1", model.NewProviderToken(model.Dropbox, "at", "", time.Now(), time.Hour))

	// A record copied under another user's key must not decrypt.
	item := db.items["u1|DROPBOX"]
	item["user_id"] = &types.AttributeValueMemberS{Value: "u2"}
	db.items["u2|DROPBOX"] = item

	if s.Get(ctx, "u2", model.Dropbox) != nil {
		t.Error("Expected nil for ciphertext sealed under another scope")
	}
}

type failingEncryptor struct{ *crypto.MockEncryptor }

func (failingEncryptor) Encrypt(context.Context, string, string) (string, error) {
	return "", errors.New("kms unavailable")
}

func TestStore_PutReportsEncryptFailure(t *testing.T) {
	s := New(nil, "tokens", failingEncryptor{crypto.NewMockEncryptor()})
	err := s.Put(context.Background(), "u1", model.NewProviderToken(model.Dropbox, "at", "", time.Now(), time.Hour))
	if err == nil {
		t.Fatal("Expected error when encryption fails")
	}
	if s.Get(context.Background(), "u1", model.Dropbox) != nil {
		t.Error("Expected nothing stored")
	}
}
