package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Identity is the authenticated caller attached to the request context
// by the middleware.
type Identity struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

const identityLocal = "auth_identity"

// IdentityFromCtx returns the authenticated identity, or nil when the
// request did not pass the Authenticate middleware.
func IdentityFromCtx(c *fiber.Ctx) *Identity {
	id, _ := c.Locals(identityLocal).(*Identity)
	return id
}

// TokenMiddleware validates bearer access tokens on protected routes.
type TokenMiddleware struct {
	tokens TokenService
}

func NewTokenMiddleware(tokens TokenService) *TokenMiddleware {
	return &TokenMiddleware{tokens: tokens}
}

// Authenticate validates the Authorization bearer token and attaches
// the caller's identity to the request.
func (m *TokenMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return ErrUnauthorized()
		}
		token := parts[1]

		if !m.tokens.IsTokenValid(token) {
			return ErrInvalidToken()
		}
		subject, err := m.tokens.ExtractSubject(token)
		if err != nil {
			return err
		}

		c.Locals(identityLocal, &Identity{
			Subject: subject,
			Roles:   m.tokens.ExtractRoles(token),
		})
		return c.Next()
	}
}

// RequireRole rejects authenticated callers lacking the given role.
func (m *TokenMiddleware) RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := IdentityFromCtx(c)
		if id == nil {
			return ErrUnauthorized()
		}
		if !id.HasRole(role) {
			return ErrAccessDenied()
		}
		return c.Next()
	}
}
