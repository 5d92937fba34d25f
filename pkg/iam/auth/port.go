package auth

import "context"

// TokenService defines the contract for signed-token issuance and
// inspection.
type TokenService interface {
	GenerateAccessToken(subject string, roles []string) (string, error)
	GenerateRefreshToken(subject string) (string, error)
	// IsTokenValid reports whether the token's signature verifies and
	// its expiry is strictly in the future. Parse failures are simply
	// invalid, never an error.
	IsTokenValid(token string) bool
	// ExtractSubject parses the token and returns its subject. Fails
	// with a malformed-token error when the token cannot be parsed.
	ExtractSubject(token string) (string, error)
	// ExtractRoles returns the role claim, or an empty set when the
	// claim is absent or of the wrong shape.
	ExtractRoles(token string) []string
}

// RefreshTokenRepository defines the contract for the per-principal
// refresh token ledger.
type RefreshTokenRepository interface {
	FindByUserID(ctx context.Context, userID string) (*RefreshTokenRecord, error)
	// Save upserts the record: at most one row per user survives.
	Save(ctx context.Context, record *RefreshTokenRecord) error
}

// PasswordHasher is an opaque one-way hash + verify capability.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// RateLimiter throttles repeated attempts for one key within a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
