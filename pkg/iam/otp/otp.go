package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/parvai/authcore/pkg/errx"
)

// CodeLength is the number of digits in a generated challenge code.
const CodeLength = 6

// DefaultTTL is how long a challenge stays redeemable after issuance.
const DefaultTTL = 10 * time.Minute

// Challenge is one issued OTP, bound to an email and an expiry.
// Challenges are append-only: a new forgot-password request creates a
// new row, and resolution always picks the most recently issued one.
type Challenge struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Code      string    `db:"code" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Used      bool      `db:"used" json:"used"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsExpired reports whether the challenge can no longer be redeemed.
// A challenge whose expiry equals the current instant is expired.
func (c *Challenge) IsExpired() bool {
	return !time.Now().Before(c.ExpiresAt)
}

// IsRedeemable reports whether the challenge is unused and unexpired.
func (c *Challenge) IsRedeemable() bool {
	return !c.Used && !c.IsExpired()
}

// GenerateCode produces a fixed-length numeric code from a
// cryptographically secure source. Drawing one uniform integer in
// [0, 10^CodeLength) and zero-padding yields independent uniform
// digits.
func GenerateCode() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(CodeLength), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}

var ErrRegistry = errx.NewRegistry("OTP")

var (
	CodeInvalidOTP       = ErrRegistry.Register("INVALID", errx.TypeValidation, http.StatusBadRequest, "Invalid OTP")
	CodeOTPExpiredOrUsed = ErrRegistry.Register("EXPIRED_OR_USED", errx.TypeValidation, http.StatusBadRequest, "OTP expired or already used")
)

func ErrInvalidOTP() *errx.Error {
	return ErrRegistry.New(CodeInvalidOTP)
}

func ErrOTPExpiredOrUsed() *errx.Error {
	return ErrRegistry.New(CodeOTPExpiredOrUsed)
}
