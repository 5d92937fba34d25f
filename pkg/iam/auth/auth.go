package auth

import (
	"net/http"
	"time"

	"github.com/parvai/authcore/pkg/errx"
)

// RefreshTokenRecord is the single durable row per principal tracking
// which refresh token is currently live. Login overwrites it; refresh
// compares against it.
type RefreshTokenRecord struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Token     string    `db:"token" json:"token"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsExpired reports whether the ledger-level expiry has passed.
func (r *RefreshTokenRecord) IsExpired() bool {
	return !time.Now().Before(r.ExpiresAt)
}

// Matches reports whether the presented token string is the one
// currently bound to this record.
func (r *RefreshTokenRecord) Matches(token string) bool {
	return r.Token == token
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

var ErrRegistry = errx.NewRegistry("AUTH")

var (
	CodeInvalidCredentials   = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid credentials")
	CodeInvalidToken         = ErrRegistry.Register("INVALID_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid refresh token")
	CodeMalformedToken       = ErrRegistry.Register("MALFORMED_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "Malformed token")
	CodeUnauthorized         = ErrRegistry.Register("UNAUTHORIZED", errx.TypeAuthorization, http.StatusUnauthorized, "Authentication required")
	CodeAccessDenied         = ErrRegistry.Register("ACCESS_DENIED", errx.TypeAuthorization, http.StatusForbidden, "Access denied")
	CodeTokenGenerationError = ErrRegistry.Register("TOKEN_GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Token generation failed")
	CodeTooManyRequests      = ErrRegistry.Register("TOO_MANY_REQUESTS", errx.TypeBusiness, http.StatusTooManyRequests, "Too many requests")
)

// Invalid-credentials is shared by the missing-account and the
// wrong-password paths so callers cannot probe for account existence.
func ErrInvalidCredentials() *errx.Error {
	return ErrRegistry.New(CodeInvalidCredentials)
}

func ErrInvalidToken() *errx.Error {
	return ErrRegistry.New(CodeInvalidToken)
}

func ErrMalformedToken() *errx.Error {
	return ErrRegistry.New(CodeMalformedToken)
}

func ErrUnauthorized() *errx.Error {
	return ErrRegistry.New(CodeUnauthorized)
}

func ErrAccessDenied() *errx.Error {
	return ErrRegistry.New(CodeAccessDenied)
}

func ErrTokenGeneration(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeTokenGenerationError, cause)
}

func ErrTooManyRequests() *errx.Error {
	return ErrRegistry.New(CodeTooManyRequests)
}
