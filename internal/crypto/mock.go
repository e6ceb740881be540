package crypto

import (
	"context"
	"fmt"
	"strings"
)

// MockEncryptor implements Encryptor for DEV_MODE and tests (no KMS required).
// Ciphertexts are "mock:<scope>:<plaintext>" so tests can assert on them.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(_ context.Context, plaintext, scope string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return "mock:" + scope + ":" + plaintext, nil
}

func (m *MockEncryptor) Decrypt(_ context.Context, ciphertext, scope string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	prefix := "mock:" + scope + ":"
	if !strings.HasPrefix(ciphertext, prefix) {
		return "", fmt.Errorf("ciphertext not sealed for scope %q", scope)
	}
	return strings.TrimPrefix(ciphertext, prefix), nil
}
