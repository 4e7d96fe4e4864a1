package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrEncryptionKeyNotSet is returned when the local vault is used without
// a master key configured.
var ErrEncryptionKeyNotSet = errors.New("vault encryption key not set")

// KVStore is the persistence port beneath the local vault. Values arriving
// here are already ciphertext.
type KVStore interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

// LocalVault encrypts secrets with AES-256-GCM before handing them to the
// underlying key-value store.
type LocalVault struct {
	kv  KVStore
	key []byte // 32-byte AES-256 key
}

// NewLocalVault creates a local vault. key must be 32 bytes.
func NewLocalVault(kv KVStore, key []byte) (*LocalVault, error) {
	if len(key) == 0 {
		return nil, ErrEncryptionKeyNotSet
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}
	return &LocalVault{kv: kv, key: key}, nil
}

// Store encrypts and writes the secret.
func (v *LocalVault) Store(ctx context.Context, key, value string) error {
	encrypted, err := v.encrypt(value)
	if err != nil {
		return err
	}
	return v.kv.Put(ctx, key, encrypted)
}

// Retrieve reads and decrypts the secret.
func (v *LocalVault) Retrieve(ctx context.Context, key string) (string, error) {
	encrypted, ok, err := v.kv.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no secret stored at %q", key)
	}
	plaintext, err := v.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt secret at %q: %w", key, err)
	}
	return plaintext, nil
}

// Delete removes the secret.
func (v *LocalVault) Delete(ctx context.Context, key string) error {
	return v.kv.Delete(ctx, key)
}

// encrypt seals plaintext with AES-256-GCM and returns base64 of
// nonce || ciphertext || tag.
func (v *LocalVault) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt reverses encrypt.
func (v *LocalVault) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}
	return string(plaintext), nil
}
