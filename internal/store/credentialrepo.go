package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/systmms/credops/internal/credential"
	"github.com/systmms/credops/internal/errors"
)

// Compile-time interface satisfaction check.
var _ credential.Store = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the credential store.
// List-valued fields and the emergency grant are stored as JSON columns.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

const credentialColumns = `id, name, service_type, active, expires_at, allowed_ips,
	allowed_domains, rate_limit_per_minute, max_concurrent, probe_url,
	last_rotated_at, secret_preview, emergency, created_at, updated_at`

// Create inserts a new credential record.
func (r *CredentialRepo) Create(ctx context.Context, cred *credential.Credential) error {
	allowedIPs, allowedDomains, emergencyJSON, err := encodeCredential(cred)
	if err != nil {
		return err
	}

	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = cred.CreatedAt
	}

	const query = `INSERT INTO credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Writer.ExecContext(ctx, query,
		cred.ID, cred.Name, cred.ServiceType, boolToInt(cred.Active),
		formatTimePtr(cred.ExpiresAt), allowedIPs, allowedDomains,
		cred.RateLimitPerMinute, cred.MaxConcurrent, cred.ProbeURL,
		formatTimePtr(cred.LastRotatedAt), cred.SecretPreview, emergencyJSON,
		formatTime(cred.CreatedAt), formatTime(cred.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create credential %q: %w", cred.ID, err)
	}
	return nil
}

// Get returns the credential with the given ID.
func (r *CredentialRepo) Get(ctx context.Context, id string) (*credential.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`
	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError{Kind: "credential", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", id, err)
	}
	return cred, nil
}

// Update applies the given field changes to a credential. The read-modify-
// write runs on the single writer connection, so updates serialize.
func (r *CredentialRepo) Update(ctx context.Context, id string, upd credential.Update) error {
	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`
	cred, err := scanCredential(r.db.Writer.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFoundError{Kind: "credential", ID: id}
	}
	if err != nil {
		return fmt.Errorf("get credential %q: %w", id, err)
	}

	upd.Apply(cred)

	allowedIPs, allowedDomains, emergencyJSON, err := encodeCredential(cred)
	if err != nil {
		return err
	}

	const update = `UPDATE credentials SET
		name = ?, service_type = ?, active = ?, expires_at = ?, allowed_ips = ?,
		allowed_domains = ?, rate_limit_per_minute = ?, max_concurrent = ?,
		probe_url = ?, last_rotated_at = ?, secret_preview = ?, emergency = ?,
		updated_at = ?
		WHERE id = ?`
	_, err = r.db.Writer.ExecContext(ctx, update,
		cred.Name, cred.ServiceType, boolToInt(cred.Active),
		formatTimePtr(cred.ExpiresAt), allowedIPs, allowedDomains,
		cred.RateLimitPerMinute, cred.MaxConcurrent, cred.ProbeURL,
		formatTimePtr(cred.LastRotatedAt), cred.SecretPreview, emergencyJSON,
		formatTime(cred.UpdatedAt), id,
	)
	if err != nil {
		return fmt.Errorf("update credential %q: %w", id, err)
	}
	return nil
}

// ListActive returns all credentials with the active flag set.
func (r *CredentialRepo) ListActive(ctx context.Context) ([]*credential.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE active = 1 ORDER BY id`
	return r.list(ctx, query)
}

// ListEmergencyEnabled returns credentials with an emergency grant record,
// lapsed or not.
func (r *CredentialRepo) ListEmergencyEnabled(ctx context.Context) ([]*credential.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM credentials WHERE emergency IS NOT NULL ORDER BY id`
	return r.list(ctx, query)
}

func (r *CredentialRepo) list(ctx context.Context, query string) ([]*credential.Credential, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*credential.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*credential.Credential, error) {
	var (
		cred           credential.Credential
		active         int
		expiresAt      sql.NullString
		allowedIPs     string
		allowedDomains string
		lastRotatedAt  sql.NullString
		emergencyJSON  sql.NullString
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(
		&cred.ID, &cred.Name, &cred.ServiceType, &active, &expiresAt,
		&allowedIPs, &allowedDomains, &cred.RateLimitPerMinute,
		&cred.MaxConcurrent, &cred.ProbeURL, &lastRotatedAt,
		&cred.SecretPreview, &emergencyJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.Active = active != 0
	if cred.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if cred.LastRotatedAt, err = parseTimePtr(lastRotatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(allowedIPs), &cred.AllowedIPs); err != nil {
		return nil, fmt.Errorf("decode allowed_ips: %w", err)
	}
	if err := json.Unmarshal([]byte(allowedDomains), &cred.AllowedDomains); err != nil {
		return nil, fmt.Errorf("decode allowed_domains: %w", err)
	}
	if emergencyJSON.Valid {
		var grant credential.EmergencyGrant
		if err := json.Unmarshal([]byte(emergencyJSON.String), &grant); err != nil {
			return nil, fmt.Errorf("decode emergency grant: %w", err)
		}
		cred.Emergency = &grant
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &cred, nil
}

func encodeCredential(cred *credential.Credential) (allowedIPs, allowedDomains string, emergency sql.NullString, err error) {
	ips, err := json.Marshal(emptyIfNil(cred.AllowedIPs))
	if err != nil {
		return "", "", sql.NullString{}, fmt.Errorf("encode allowed_ips: %w", err)
	}
	domains, err := json.Marshal(emptyIfNil(cred.AllowedDomains))
	if err != nil {
		return "", "", sql.NullString{}, fmt.Errorf("encode allowed_domains: %w", err)
	}
	if cred.Emergency != nil {
		grant, err := json.Marshal(cred.Emergency)
		if err != nil {
			return "", "", sql.NullString{}, fmt.Errorf("encode emergency grant: %w", err)
		}
		emergency = sql.NullString{String: string(grant), Valid: true}
	}
	return string(ips), string(domains), emergency, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
