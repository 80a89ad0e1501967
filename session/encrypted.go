package session

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// EncryptedFileStore persists the session on disk sealed with AES-GCM, for
// hosts where a plaintext refresh token on the filesystem is not acceptable.
// The file holds base64 of nonce-prefixed ciphertext.
//
// Example:
//
//	key := session.DeriveKey(passphrase)
//	store, err := session.NewEncryptedFileStore("/home/user/.amplify/session.enc", key)
type EncryptedFileStore struct {
	path string
	key  []byte
}

// DeriveKey stretches a passphrase into a 32-byte encryption key.
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// NewEncryptedFileStore creates a store sealing sessions with the given key.
// The key must be at least 32 bytes; only the first 32 are used. The path
// follows the same rules as NewFileStore.
func NewEncryptedFileStore(path string, key []byte) (*EncryptedFileStore, error) {
	resolved, err := resolveStorePath(path)
	if err != nil {
		return nil, err
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("encryption key must be at least 32 bytes, got %d", len(key))
	}
	return &EncryptedFileStore{path: resolved, key: key[:32]}, nil
}

// Load reads and decrypts the session file. A missing file means no session.
func (e *EncryptedFileStore) Load(ctx context.Context) (*Session, error) {
	raw, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	plaintext, err := e.open(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypting session file %s: %w", e.path, err)
	}

	var s Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", e.path, err)
	}
	return &s, nil
}

// Save encrypts and writes the session file.
func (e *EncryptedFileStore) Save(ctx context.Context, s *Session) error {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	sealed, err := e.seal(plaintext)
	if err != nil {
		return fmt.Errorf("encrypting session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.WriteFile(e.path, sealed, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// Clear deletes the session file if it exists.
func (e *EncryptedFileStore) Clear(ctx context.Context) error {
	err := os.Remove(e.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

func (e *EncryptedFileStore) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := aesgcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (e *EncryptedFileStore) open(raw []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < aesgcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, ciphertext := data[:aesgcm.NonceSize()], data[aesgcm.NonceSize():]
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}
