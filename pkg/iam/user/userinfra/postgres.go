package userinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/parvai/authcore/pkg/errx"
	"github.com/parvai/authcore/pkg/iam/user"
)

// PostgresUserRepository is the PostgreSQL implementation of user.Repository.
type PostgresUserRepository struct {
	db *sqlx.DB
}

func NewPostgresUserRepository(db *sqlx.DB) user.Repository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	var row userRow
	query := `SELECT * FROM users WHERE email = $1`
	if err := r.db.GetContext(ctx, &row, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, user.ErrUserNotFound()
		}
		return nil, errx.Wrap(err, "failed to find user by email", errx.TypeInternal)
	}
	u := toDomain(row)
	return &u, nil
}

func (r *PostgresUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`
	if err := r.db.GetContext(ctx, &exists, query, email); err != nil {
		return false, errx.Wrap(err, "failed to check user existence", errx.TypeInternal)
	}
	return exists, nil
}

func (r *PostgresUserRepository) Save(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (
			id, full_name, email, mobile_no, password, is_verified, roles,
			created_at, modified_at
		) VALUES (
			:id, :full_name, :email, :mobile_no, :password, :is_verified, :roles,
			:created_at, :modified_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, toRow(u))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return user.ErrUserAlreadyExists()
		}
		return errx.Wrap(err, "failed to save user", errx.TypeInternal).
			WithDetail("user_id", u.ID)
	}
	return nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, u *user.User) error {
	query := `
		UPDATE users SET
			full_name = :full_name,
			mobile_no = :mobile_no,
			password = :password,
			is_verified = :is_verified,
			roles = :roles,
			modified_at = :modified_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, toRow(u))
	if err != nil {
		return errx.Wrap(err, "failed to update user", errx.TypeInternal).
			WithDetail("user_id", u.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on update", errx.TypeInternal)
	}
	if affected == 0 {
		return user.ErrUserNotFound()
	}
	return nil
}

// userRow handles DB-specific types (pq array for roles).
type userRow struct {
	ID           string         `db:"id"`
	FullName     string         `db:"full_name"`
	Email        string         `db:"email"`
	MobileNo     string         `db:"mobile_no"`
	PasswordHash string         `db:"password"`
	IsVerified   bool           `db:"is_verified"`
	Roles        pq.StringArray `db:"roles"`
	CreatedAt    time.Time      `db:"created_at"`
	ModifiedAt   time.Time      `db:"modified_at"`
}

func toRow(u *user.User) userRow {
	return userRow{
		ID:           u.ID,
		FullName:     u.FullName,
		Email:        u.Email,
		MobileNo:     u.MobileNo,
		PasswordHash: u.PasswordHash,
		IsVerified:   u.IsVerified,
		Roles:        u.Roles,
		CreatedAt:    u.CreatedAt,
		ModifiedAt:   u.ModifiedAt,
	}
}

func toDomain(row userRow) user.User {
	return user.User{
		ID:           row.ID,
		FullName:     row.FullName,
		Email:        row.Email,
		MobileNo:     row.MobileNo,
		PasswordHash: row.PasswordHash,
		IsVerified:   row.IsVerified,
		Roles:        row.Roles,
		CreatedAt:    row.CreatedAt,
		ModifiedAt:   row.ModifiedAt,
	}
}
