package auth

import (
	"crypto/rsa"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/parvai/authcore/pkg/errx"
)

// LoadPrivateKey reads an RSA private key from a PEM file. Called once
// at startup; the returned key is treated as immutable configuration.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errx.Wrap(err, "failed to read signing key file", errx.TypeInternal).
			WithDetail("path", path)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, errx.Wrap(err, "invalid RSA signing key", errx.TypeInternal)
	}
	return key, nil
}
