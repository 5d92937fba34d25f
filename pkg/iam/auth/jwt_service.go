package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTService implements TokenService using RS256-signed JWTs. The
// private key signs; its public half verifies. One signing identity
// per deployment, injected immutably at construction.
type JWTService struct {
	key             *rsa.PrivateKey
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	issuer          string
}

// NewJWTService creates a token service around a signing key.
func NewJWTService(key *rsa.PrivateKey, accessTokenTTL, refreshTokenTTL time.Duration, issuer string) *JWTService {
	if accessTokenTTL == 0 {
		accessTokenTTL = 15 * time.Minute
	}
	if refreshTokenTTL == 0 {
		refreshTokenTTL = 7 * 24 * time.Hour
	}
	if issuer == "" {
		issuer = "authcore"
	}

	return &JWTService{
		key:             key,
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		issuer:          issuer,
	}
}

// AccessClaims is the claim set of an access token. Refresh tokens
// carry only the registered claims.
type AccessClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// GenerateAccessToken issues a short-lived token carrying the subject
// and its role set.
func (j *JWTService) GenerateAccessToken(subject string, roles []string) (string, error) {
	now := time.Now()

	claims := AccessClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(j.key)
	if err != nil {
		return "", ErrTokenGeneration(err)
	}
	return signed, nil
}

// GenerateRefreshToken issues a long-lived token carrying only the
// subject.
func (j *JWTService) GenerateRefreshToken(subject string) (string, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.refreshTokenTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(j.key)
	if err != nil {
		return "", ErrTokenGeneration(err)
	}
	return signed, nil
}

// IsTokenValid reports whether the signature verifies and the expiry is
// strictly in the future. Any parse or signature failure is invalid.
// No clock-skew leeway is applied.
func (j *JWTService) IsTokenValid(tokenString string) bool {
	token, err := jwt.Parse(tokenString, j.keyFunc, jwt.WithExpirationRequired())
	return err == nil && token.Valid
}

// ExtractSubject parses the token and returns its subject claim.
// Signature is still verified, but expiry is not judged here; an
// unparseable or forged token fails with a malformed-token error.
func (j *JWTService) ExtractSubject(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	_, err := jwt.NewParser(jwt.WithoutClaimsValidation()).
		ParseWithClaims(tokenString, &claims, j.keyFunc)
	if err != nil {
		return "", ErrMalformedToken().WithDetail("error", err.Error())
	}
	return claims.Subject, nil
}

// ExtractRoles returns the role claim of a token, or an empty set when
// the claim is absent or of the wrong shape. It never fails the caller.
func (j *JWTService) ExtractRoles(tokenString string) []string {
	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(jwt.WithoutClaimsValidation()).
		ParseWithClaims(tokenString, claims, j.keyFunc)
	if err != nil {
		return []string{}
	}

	raw, ok := claims["roles"].([]interface{})
	if !ok {
		return []string{}
	}
	roles := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

func (j *JWTService) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &j.key.PublicKey, nil
}
