package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/systmms/credops/internal/vault"
)

// Compile-time interface satisfaction check.
var _ vault.KVStore = (*VaultRepo)(nil)

// VaultRepo backs the local vault. Values arriving here are already
// AES-256-GCM ciphertext; this repo never sees plaintext secrets.
type VaultRepo struct {
	db *DB
}

// NewVaultRepo creates a vault key-value repository.
func NewVaultRepo(db *DB) *VaultRepo {
	return &VaultRepo{db: db}
}

// Put writes or replaces the value at key.
func (r *VaultRepo) Put(ctx context.Context, key, value string) error {
	const query = `INSERT OR REPLACE INTO vault_secrets (key, value, updated_at) VALUES (?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put vault secret %q: %w", key, err)
	}
	return nil
}

// Get returns the value at key and whether it exists.
func (r *VaultRepo) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT value FROM vault_secrets WHERE key = ?`
	var value string
	err := r.db.Reader.QueryRowContext(ctx, query, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get vault secret %q: %w", key, err)
	}
	return value, true, nil
}

// Delete removes the value at key. Missing keys are not an error.
func (r *VaultRepo) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM vault_secrets WHERE key = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete vault secret %q: %w", key, err)
	}
	return nil
}
