package repository

import (
	"context"
	"database/sql"
	"errors"

	"ocppgate/backend/services/ocpp-server/internal/credentials"
)

// CredentialRepository stores station secret hashes. It implements credentials.Repository.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository returns repository.
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert stores or replaces the credential.
func (r *CredentialRepository) Upsert(ctx context.Context, cred credentials.Credential) error {
	const query = `
		INSERT INTO station_credentials (station_id, secret_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (station_id) DO UPDATE SET
			secret_hash = EXCLUDED.secret_hash,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, cred.Identity, cred.SecretHash, cred.UpdatedAt)
	return err
}

// Get fetches the credential of identity.
func (r *CredentialRepository) Get(ctx context.Context, identity string) (credentials.Credential, error) {
	const query = `
		SELECT station_id, secret_hash, updated_at
		FROM station_credentials
		WHERE station_id = $1
		LIMIT 1
	`
	var cred credentials.Credential
	err := r.db.QueryRowContext(ctx, query, identity).Scan(&cred.Identity, &cred.SecretHash, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return credentials.Credential{}, credentials.ErrNotFound
		}
		return credentials.Credential{}, err
	}
	return cred, nil
}
