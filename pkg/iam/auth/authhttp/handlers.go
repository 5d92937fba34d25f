package authhttp

import (
	"github.com/gofiber/fiber/v2"
	"github.com/parvai/authcore/pkg/errx"
	"github.com/parvai/authcore/pkg/iam/auth"
	"github.com/parvai/authcore/pkg/iam/auth/authsrv"
)

// Handlers exposes the auth service over HTTP.
type Handlers struct {
	service    *authsrv.Service
	middleware *auth.TokenMiddleware
}

func NewHandlers(service *authsrv.Service, middleware *auth.TokenMiddleware) *Handlers {
	return &Handlers{service: service, middleware: middleware}
}

// RegisterRoutes mounts the auth endpoints under /api/v1/auth.
func (h *Handlers) RegisterRoutes(app *fiber.App) {
	grp := app.Group("/api/v1/auth")

	grp.Post("/signup", h.signup)
	grp.Post("/login", h.login)
	grp.Post("/refresh-token", h.refreshToken)
	grp.Post("/forgot-password", h.forgotPassword)
	grp.Post("/reset-password", h.resetPassword)
	grp.Get("/me", h.middleware.Authenticate(), h.me)
}

func (h *Handlers) signup(c *fiber.Ctx) error {
	var in authsrv.RegisterInput
	if err := c.BodyParser(&in); err != nil {
		return errx.New("invalid request body", errx.TypeValidation)
	}
	if in.Email == "" || in.Password == "" {
		return errx.New("email and password are required", errx.TypeValidation)
	}
	if err := h.service.Register(c.Context(), in); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "User registered successfully"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) login(c *fiber.Ctx) error {
	var in loginRequest
	if err := c.BodyParser(&in); err != nil {
		return errx.New("invalid request body", errx.TypeValidation)
	}
	pair, err := h.service.Login(c.Context(), in.Email, in.Password)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handlers) refreshToken(c *fiber.Ctx) error {
	var in refreshRequest
	if err := c.BodyParser(&in); err != nil {
		return errx.New("invalid request body", errx.TypeValidation)
	}
	pair, err := h.service.Refresh(c.Context(), in.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) forgotPassword(c *fiber.Ctx) error {
	var in forgotPasswordRequest
	if err := c.BodyParser(&in); err != nil {
		return errx.New("invalid request body", errx.TypeValidation)
	}
	if err := h.service.ForgotPassword(c.Context(), in.Email); err != nil {
		return err
	}
	// Same response whether or not the email exists.
	return c.JSON(fiber.Map{"message": "If your email exists, an OTP has been sent"})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

func (h *Handlers) resetPassword(c *fiber.Ctx) error {
	var in resetPasswordRequest
	if err := c.BodyParser(&in); err != nil {
		return errx.New("invalid request body", errx.TypeValidation)
	}
	if err := h.service.ResetPassword(c.Context(), in.Email, in.OTP, in.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Password reset successful"})
}

func (h *Handlers) me(c *fiber.Ctx) error {
	id := auth.IdentityFromCtx(c)
	if id == nil {
		return auth.ErrUnauthorized()
	}
	return c.JSON(fiber.Map{
		"email": id.Subject,
		"roles": id.Roles,
	})
}
