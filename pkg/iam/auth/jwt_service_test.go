package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/parvai/authcore/pkg/errx"
	"github.com/parvai/authcore/pkg/iam/auth"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

func TestJWTService_AccessTokenRoundTrip(t *testing.T) {
	svc := auth.NewJWTService(testKey(t), time.Hour, 24*time.Hour, "test")

	token, err := svc.GenerateAccessToken("a@x.com", []string{"USER", "ADMIN"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if !svc.IsTokenValid(token) {
		t.Fatal("freshly issued access token should be valid")
	}

	subject, err := svc.ExtractSubject(token)
	if err != nil {
		t.Fatalf("ExtractSubject failed: %v", err)
	}
	if subject != "a@x.com" {
		t.Fatalf("expected subject a@x.com, got %q", subject)
	}

	roles := svc.ExtractRoles(token)
	if len(roles) != 2 || roles[0] != "USER" || roles[1] != "ADMIN" {
		t.Fatalf("unexpected roles: %v", roles)
	}
}

func TestJWTService_RefreshTokenCarriesNoRoles(t *testing.T) {
	svc := auth.NewJWTService(testKey(t), time.Hour, 24*time.Hour, "test")

	token, err := svc.GenerateRefreshToken("a@x.com")
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}

	if roles := svc.ExtractRoles(token); len(roles) != 0 {
		t.Fatalf("refresh token should carry no roles, got %v", roles)
	}
	subject, err := svc.ExtractSubject(token)
	if err != nil || subject != "a@x.com" {
		t.Fatalf("expected subject a@x.com, got %q (err=%v)", subject, err)
	}
}

func TestJWTService_ExpiredTokenInvalidButParseable(t *testing.T) {
	svc := auth.NewJWTService(testKey(t), -time.Minute, 24*time.Hour, "test")

	token, err := svc.GenerateAccessToken("a@x.com", []string{"USER"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if svc.IsTokenValid(token) {
		t.Fatal("expired token should be invalid")
	}

	// Expiry is a validity question, not a parse question.
	subject, err := svc.ExtractSubject(token)
	if err != nil {
		t.Fatalf("ExtractSubject should succeed on an expired token: %v", err)
	}
	if subject != "a@x.com" {
		t.Fatalf("expected subject a@x.com, got %q", subject)
	}
}

func TestJWTService_RejectsForeignSignature(t *testing.T) {
	issuer := auth.NewJWTService(testKey(t), time.Hour, 24*time.Hour, "test")
	verifier := auth.NewJWTService(testKey(t), time.Hour, 24*time.Hour, "test")

	token, err := issuer.GenerateAccessToken("a@x.com", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if verifier.IsTokenValid(token) {
		t.Fatal("token signed under a different key should be invalid")
	}
	if _, err := verifier.ExtractSubject(token); err == nil {
		t.Fatal("ExtractSubject should reject a foreign signature")
	}
}

func TestJWTService_MalformedToken(t *testing.T) {
	svc := auth.NewJWTService(testKey(t), time.Hour, 24*time.Hour, "test")

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if svc.IsTokenValid(tok) {
			t.Fatalf("token %q should be invalid", tok)
		}
		_, err := svc.ExtractSubject(tok)
		if err == nil {
			t.Fatalf("ExtractSubject should fail for %q", tok)
		}
		var e *errx.Error
		if !errors.As(err, &e) || e.Code != auth.CodeMalformedToken.Code {
			t.Fatalf("expected malformed-token error, got %v", err)
		}
		if roles := svc.ExtractRoles(tok); len(roles) != 0 {
			t.Fatalf("ExtractRoles should be empty for %q, got %v", tok, roles)
		}
	}
}
