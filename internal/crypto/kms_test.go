package crypto

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// fakeKMSClient "encrypts" by prefixing the scope from the encryption context.
type fakeKMSClient struct {
	lastKeyID string
}

func (f *fakeKMSClient) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	f.lastKeyID = *in.KeyId
	blob := append([]byte(in.EncryptionContext["token_scope"]+"|"), in.Plaintext...)
	return &kms.EncryptOutput{CiphertextBlob: blob}, nil
}

func (f *fakeKMSClient) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	prefix := in.EncryptionContext["token_scope"] + "|"
	if len(in.CiphertextBlob) < len(prefix) || string(in.CiphertextBlob[:len(prefix)]) != prefix {
		return nil, fmt.Errorf("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: in.CiphertextBlob[len(prefix):]}, nil
}

func TestKMSService_RoundTrip(t *testing.T) {
	client := &fakeKMSClient{}
	s := NewKMSService(client, "alias/test-key")
	ctx := context.Background()

	ct, err := s.Encrypt(ctx, "refresh-abc", "user1/DROPBOX")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if client.lastKeyID != "alias/test-key" {
		t.Errorf("Expected key alias/test-key, got %q", client.lastKeyID)
	}

	pt, err := s.Decrypt(ctx, ct, "user1/DROPBOX")
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if pt != "refresh-abc" {
		t.Errorf("Expected 'refresh-abc', got %q", pt)
	}
}

func TestKMSService_ScopeMismatch(t *testing.T) {
	s := NewKMSService(&fakeKMSClient{}, "alias/test-key")
	ctx := context.Background()

	ct, _ := s.Encrypt(ctx, "secret", "user1/ZOOM")
	if _, err := s.Decrypt(ctx, ct, "user2/ZOOM"); err == nil {
		t.Error("Expected decrypt under another scope to fail")
	}
}

func TestKMSService_EmptyPlaintext(t *testing.T) {
	s := NewKMSService(&fakeKMSClient{}, "k")
	ct, err := s.Encrypt(context.Background(), "", "scope")
	if err != nil || ct != "" {
		t.Errorf("Expected empty ciphertext for empty plaintext, got %q, %v", ct, err)
	}
}

func TestMockEncryptor(t *testing.T) {
	m := NewMockEncryptor()
	ctx := context.Background()

	ct, _ := m.Encrypt(ctx, "access-1", "u/GOOGLE_DRIVE")
	if ct != "mock:u/GOOGLE_DRIVE:access-1" {
		t.Errorf("Unexpected mock ciphertext %q", ct)
	}
	pt, err := m.Decrypt(ctx, ct, "u/GOOGLE_DRIVE")
	if err != nil || pt != "access-1" {
		t.Errorf("Expected access-1, got %q (%v)", pt, err)
	}
	if _, err := m.Decrypt(ctx, ct, "u/DROPBOX"); err == nil {
		t.Error("Expected scope mismatch error")
	}
}
