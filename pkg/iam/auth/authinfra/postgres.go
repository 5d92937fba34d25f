package authinfra

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/parvai/authcore/pkg/errx"
	"github.com/parvai/authcore/pkg/iam/auth"
)

// PostgresRefreshTokenRepository is the PostgreSQL implementation of
// auth.RefreshTokenRepository.
type PostgresRefreshTokenRepository struct {
	db *sqlx.DB
}

func NewPostgresRefreshTokenRepository(db *sqlx.DB) auth.RefreshTokenRepository {
	return &PostgresRefreshTokenRepository{db: db}
}

func (r *PostgresRefreshTokenRepository) FindByUserID(ctx context.Context, userID string) (*auth.RefreshTokenRecord, error) {
	var record auth.RefreshTokenRecord
	query := `SELECT * FROM refresh_tokens WHERE user_id = $1`
	if err := r.db.GetContext(ctx, &record, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, auth.ErrInvalidToken()
		}
		return nil, errx.Wrap(err, "failed to find refresh token record", errx.TypeInternal)
	}
	return &record, nil
}

// Save upserts the per-user record. The unique constraint on user_id
// plus ON CONFLICT makes the overwrite atomic at the storage layer, so
// there is never more than one live row per principal.
func (r *PostgresRefreshTokenRepository) Save(ctx context.Context, record *auth.RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at)
		VALUES (:id, :user_id, :token, :expires_at, :created_at)
		ON CONFLICT (user_id) DO UPDATE SET
			token = EXCLUDED.token,
			expires_at = EXCLUDED.expires_at`

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return errx.Wrap(err, "failed to save refresh token record", errx.TypeInternal).
			WithDetail("user_id", record.UserID)
	}
	return nil
}
