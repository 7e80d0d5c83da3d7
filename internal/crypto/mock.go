package crypto

import (
	"context"
	"strings"
)

// MockEncryptor implements Encryptor for local development (no KMS required).
// It does not hide the plaintext; it only tags it with the subject.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(ctx context.Context, plaintext, subject string) (string, error) {
	return "mock:" + subject + ":" + plaintext, nil
}

func (m *MockEncryptor) Decrypt(ctx context.Context, ciphertext, subject string) (string, error) {
	prefix := "mock:" + subject + ":"
	if !strings.HasPrefix(ciphertext, prefix) {
		return "", ErrSubjectMismatch
	}
	return strings.TrimPrefix(ciphertext, prefix), nil
}
