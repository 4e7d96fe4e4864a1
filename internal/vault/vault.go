// Package vault stores secret values, separately from the credential
// metadata store. Two backends ship: a local AES-256-GCM store for
// single-node deployments and AWS Secrets Manager for cloud ones.
package vault

import (
	"context"
	"fmt"
)

// Vault is the port to secret storage. Keys are opaque strings; the
// helpers below build the keys the engine uses.
type Vault interface {
	// Store writes or replaces the secret at key.
	Store(ctx context.Context, key, value string) error

	// Retrieve returns the secret at key.
	Retrieve(ctx context.Context, key string) (string, error)

	// Delete removes the secret at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// CredentialKey is the vault key for a credential's live secret.
func CredentialKey(credentialID string) string {
	return "credential/" + credentialID
}

// BackupKey is the vault key for the outgoing secret held during a
// rotation session. It survives process restarts so rollback and
// completion work across the grace period.
func BackupKey(credentialID, sessionID string) string {
	return fmt.Sprintf("backup/%s/%s", credentialID, sessionID)
}
