package authsrv

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/parvai/authcore/pkg/errx"
	"github.com/parvai/authcore/pkg/iam/auth"
	"github.com/parvai/authcore/pkg/iam/otp"
	"github.com/parvai/authcore/pkg/iam/user"
	"github.com/parvai/authcore/pkg/logx"
	"github.com/parvai/authcore/pkg/notifx"
)

// Service orchestrates registration, login, token refresh and the OTP
// based password-reset flow.
type Service struct {
	users   user.Repository
	refresh auth.RefreshTokenRepository
	otps    otp.Repository
	tokens  auth.TokenService
	hasher  auth.PasswordHasher
	mailer  notifx.EmailSender

	refreshTTL time.Duration
	otpTTL     time.Duration

	loginLimiter  auth.RateLimiter
	forgotLimiter auth.RateLimiter
	generateCode  func() (string, error)

	// Serializes the refresh-token read-modify-write per principal so
	// concurrent logins cannot interleave into a lost update.
	locks stripedMutex
}

// Option configures optional service behavior.
type Option func(*Service)

// WithLoginLimiter throttles login attempts per email.
func WithLoginLimiter(l auth.RateLimiter) Option {
	return func(s *Service) { s.loginLimiter = l }
}

// WithForgotPasswordLimiter throttles OTP issuance per email.
func WithForgotPasswordLimiter(l auth.RateLimiter) Option {
	return func(s *Service) { s.forgotLimiter = l }
}

// WithCodeGenerator overrides the OTP code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.generateCode = fn }
}

// NewService creates the auth service.
func NewService(
	users user.Repository,
	refresh auth.RefreshTokenRepository,
	otps otp.Repository,
	tokens auth.TokenService,
	hasher auth.PasswordHasher,
	mailer notifx.EmailSender,
	refreshTTL time.Duration,
	opts ...Option,
) *Service {
	if refreshTTL == 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	s := &Service{
		users:        users,
		refresh:      refresh,
		otps:         otps,
		tokens:       tokens,
		hasher:       hasher,
		mailer:       mailer,
		refreshTTL:   refreshTTL,
		otpTTL:       otp.DefaultTTL,
		generateCode: otp.GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput carries the identity fields of a signup request.
type RegisterInput struct {
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	MobileNo string   `json:"mobile_no"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// Register creates a new principal. No tokens are issued; the caller
// logs in separately.
func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	exists, err := s.users.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return err
	}
	if exists {
		return user.ErrUserAlreadyExists()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return err
	}

	now := time.Now()
	u := &user.User{
		ID:           uuid.NewString(),
		FullName:     in.FullName,
		Email:        in.Email,
		MobileNo:     in.MobileNo,
		PasswordHash: hash,
		IsVerified:   true,
		Roles:        user.NormalizeRoles(in.Roles),
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	if err := s.users.Save(ctx, u); err != nil {
		return err
	}

	logx.WithField("user_id", u.ID).Info("user registered")
	return nil
}

// Login verifies credentials and issues an access/refresh token pair.
// A missing account and a wrong password produce the same error value.
func (s *Service) Login(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	if s.loginLimiter != nil {
		ok, err := s.loginLimiter.Allow(ctx, email)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, auth.ErrTooManyRequests()
		}
	}

	unlock := s.locks.lock(email)
	defer unlock()

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound()) {
			return nil, auth.ErrInvalidCredentials()
		}
		return nil, err
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return nil, auth.ErrInvalidCredentials()
	}

	accessToken, err := s.tokens.GenerateAccessToken(u.Email, u.Roles)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.tokens.GenerateRefreshToken(u.Email)
	if err != nil {
		return nil, err
	}

	// Overwrite the user's ledger row: the newest login always holds
	// the only live refresh token.
	record, err := s.refresh.FindByUserID(ctx, u.ID)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken()) {
			return nil, err
		}
		record = &auth.RefreshTokenRecord{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			CreatedAt: time.Now(),
		}
	}
	record.Token = refreshToken
	record.ExpiresAt = time.Now().Add(s.refreshTTL)
	if err := s.refresh.Save(ctx, record); err != nil {
		return nil, err
	}

	logx.WithField("user_id", u.ID).Info("user logged in")
	return &auth.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Refresh exchanges a refresh token for a new access token. The
// refresh token itself is not rotated; the presented string is handed
// back unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	if !s.tokens.IsTokenValid(refreshToken) {
		return nil, auth.ErrInvalidToken()
	}
	email, err := s.tokens.ExtractSubject(refreshToken)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(email)
	defer unlock()

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	record, err := s.refresh.FindByUserID(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	// The equality check rejects a token that is still cryptographically
	// valid but has been superseded by a newer login for this user.
	if !record.Matches(refreshToken) || record.IsExpired() {
		return nil, auth.ErrInvalidToken()
	}

	accessToken, err := s.tokens.GenerateAccessToken(u.Email, u.Roles)
	if err != nil {
		return nil, err
	}
	return &auth.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// ForgotPassword issues an OTP challenge if the email belongs to a
// principal. The caller-visible result is identical either way.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if s.forgotLimiter != nil {
		ok, err := s.forgotLimiter.Allow(ctx, email)
		if err != nil {
			return err
		}
		if !ok {
			return auth.ErrTooManyRequests()
		}
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound()) {
			return nil
		}
		return err
	}

	code, err := s.generateCode()
	if err != nil {
		return errx.Wrap(err, "failed to generate OTP code", errx.TypeInternal)
	}

	challenge := &otp.Challenge{
		ID:        uuid.NewString(),
		Email:     u.Email,
		Code:      code,
		ExpiresAt: time.Now().Add(s.otpTTL),
		Used:      false,
		CreatedAt: time.Now(),
	}
	if err := s.otps.Create(ctx, challenge); err != nil {
		return err
	}

	msg := notifx.EmailMessage{
		To:       []string{u.Email},
		Subject:  notifx.OTPEmailSubject,
		TextBody: notifx.BuildOTPMessage(code),
	}
	if err := s.mailer.SendEmail(ctx, msg); err != nil {
		return errx.Wrap(err, "failed to send OTP email", errx.TypeExternal)
	}

	logx.WithField("challenge_id", challenge.ID).Info("password reset OTP issued")
	return nil
}

// ResetPassword redeems the most recently issued challenge for the
// email and sets a new password. The password update is persisted
// strictly before the challenge is marked used, so a failed update
// leaves the code redeemable.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	challenge, err := s.otps.FindLatestByEmail(ctx, email)
	if err != nil {
		return err
	}
	if challenge.Used || challenge.IsExpired() {
		return otp.ErrOTPExpiredOrUsed()
	}
	if challenge.Code != code {
		return otp.ErrInvalidOTP()
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.ModifiedAt = time.Now()
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}

	challenge.Used = true
	if err := s.otps.Update(ctx, challenge); err != nil {
		return err
	}

	logx.WithField("user_id", u.ID).Info("password reset completed")
	return nil
}
