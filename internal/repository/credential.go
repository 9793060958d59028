package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// CredentialBlob is one opaque credential file mirrored from the local
// cache, keyed as {sessionId}_file_{filename}.
type CredentialBlob struct {
	Key       string    `db:"key"`
	Content   []byte    `db:"content"`
	UpdatedAt time.Time `db:"updated_at"`
}

type CredentialRepository interface {
	GetAll(ctx context.Context, prefix string) ([]CredentialBlob, error)
	Get(ctx context.Context, key string) (*CredentialBlob, error)
	Set(ctx context.Context, key string, content []byte) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

type credentialRepo struct {
	db *sqlx.DB
}

func NewCredentialRepository(db *sqlx.DB) CredentialRepository {
	return &credentialRepo{db: db}
}

func (r *credentialRepo) GetAll(ctx context.Context, prefix string) ([]CredentialBlob, error) {
	var blobs []CredentialBlob
	err := r.db.SelectContext(ctx, &blobs, `
		SELECT * FROM credential_blobs
		WHERE key LIKE $1 || '%'
		ORDER BY key ASC
	`, prefix)
	return blobs, err
}

func (r *credentialRepo) Get(ctx context.Context, key string) (*CredentialBlob, error) {
	var blob CredentialBlob
	err := r.db.GetContext(ctx, &blob, `SELECT * FROM credential_blobs WHERE key = $1`, key)
	return HandleNotFound(&blob, err)
}

func (r *credentialRepo) Set(ctx context.Context, key string, content []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credential_blobs (key, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			content = EXCLUDED.content,
			updated_at = NOW()
	`, key, content)
	return err
}

func (r *credentialRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credential_blobs WHERE key = $1`, key)
	return err
}

func (r *credentialRepo) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM credential_blobs WHERE key LIKE $1 || '%'
	`, prefix)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
