package otp

import "context"

// Repository defines the contract for challenge persistence. Rows are
// append-only; the only mutation is flipping the used flag.
type Repository interface {
	Create(ctx context.Context, c *Challenge) error
	// FindLatestByEmail returns the challenge with the latest expiry
	// for the email. Equal expiries are broken by highest id, so
	// resolution is deterministic. A not-found result is reported as
	// ErrInvalidOTP.
	FindLatestByEmail(ctx context.Context, email string) (*Challenge, error)
	Update(ctx context.Context, c *Challenge) error
}
