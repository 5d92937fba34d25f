package otpinfra

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/parvai/authcore/pkg/errx"
	"github.com/parvai/authcore/pkg/iam/otp"
)

// PostgresChallengeRepository is the PostgreSQL implementation of
// otp.Repository.
type PostgresChallengeRepository struct {
	db *sqlx.DB
}

func NewPostgresChallengeRepository(db *sqlx.DB) otp.Repository {
	return &PostgresChallengeRepository{db: db}
}

func (r *PostgresChallengeRepository) Create(ctx context.Context, c *otp.Challenge) error {
	query := `
		INSERT INTO otp_challenges (id, email, code, expires_at, used, created_at)
		VALUES (:id, :email, :code, :expires_at, :used, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return errx.Wrap(err, "failed to create OTP challenge", errx.TypeInternal).
			WithDetail("challenge_id", c.ID)
	}
	return nil
}

func (r *PostgresChallengeRepository) FindLatestByEmail(ctx context.Context, email string) (*otp.Challenge, error) {
	var c otp.Challenge
	// Highest id breaks ties between challenges sharing an expiry.
	query := `
		SELECT * FROM otp_challenges
		WHERE email = $1
		ORDER BY expires_at DESC, id DESC
		LIMIT 1`

	if err := r.db.GetContext(ctx, &c, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, otp.ErrInvalidOTP()
		}
		return nil, errx.Wrap(err, "failed to find OTP challenge", errx.TypeInternal)
	}
	return &c, nil
}

func (r *PostgresChallengeRepository) Update(ctx context.Context, c *otp.Challenge) error {
	query := `UPDATE otp_challenges SET used = :used WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		return errx.Wrap(err, "failed to update OTP challenge", errx.TypeInternal).
			WithDetail("challenge_id", c.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on update", errx.TypeInternal)
	}
	if affected == 0 {
		return otp.ErrInvalidOTP()
	}
	return nil
}
