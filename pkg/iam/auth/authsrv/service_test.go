package authsrv_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parvai/authcore/pkg/errx"
	"github.com/parvai/authcore/pkg/iam/auth"
	"github.com/parvai/authcore/pkg/iam/auth/authsrv"
	"github.com/parvai/authcore/pkg/iam/otp"
	"github.com/parvai/authcore/pkg/iam/user"
	"github.com/parvai/authcore/pkg/notifx"
)

// --- fakes ---

type fakeUserRepo struct {
	mu         sync.Mutex
	users      map[string]*user.User // keyed by email
	failUpdate bool
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*user.User)}
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, user.ErrUserNotFound()
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[email]
	return ok, nil
}

func (r *fakeUserRepo) Save(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.Email]; ok {
		return user.ErrUserAlreadyExists()
	}
	cp := *u
	r.users[u.Email] = &cp
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate {
		return errx.New("storage unavailable", errx.TypeInternal)
	}
	for email, existing := range r.users {
		if existing.ID == u.ID {
			cp := *u
			r.users[email] = &cp
			return nil
		}
	}
	return user.ErrUserNotFound()
}

func (r *fakeUserRepo) delete(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, email)
}

type fakeRefreshRepo struct {
	mu      sync.Mutex
	records map[string]*auth.RefreshTokenRecord // keyed by user id
	// lostUpdates counts saves that replaced an existing record with a
	// freshly created one, the symptom of an interleaved
	// load-or-create sequence.
	lostUpdates int
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{records: make(map[string]*auth.RefreshTokenRecord)}
}

func (r *fakeRefreshRepo) FindByUserID(_ context.Context, userID string) (*auth.RefreshTokenRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return nil, auth.ErrInvalidToken()
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRefreshRepo) Save(_ context.Context, record *auth.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[record.UserID]; ok && existing.ID != record.ID {
		r.lostUpdates++
	}
	cp := *record
	r.records[record.UserID] = &cp
	return nil
}

type fakeOtpRepo struct {
	mu         sync.Mutex
	challenges []*otp.Challenge
}

func (r *fakeOtpRepo) Create(_ context.Context, c *otp.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.challenges = append(r.challenges, &cp)
	return nil
}

func (r *fakeOtpRepo) FindLatestByEmail(_ context.Context, email string) (*otp.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *otp.Challenge
	for _, c := range r.challenges {
		if c.Email != email {
			continue
		}
		if latest == nil ||
			c.ExpiresAt.After(latest.ExpiresAt) ||
			(c.ExpiresAt.Equal(latest.ExpiresAt) && c.ID > latest.ID) {
			latest = c
		}
	}
	if latest == nil {
		return nil, otp.ErrInvalidOTP()
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeOtpRepo) Update(_ context.Context, c *otp.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.challenges {
		if existing.ID == c.ID {
			cp := *c
			r.challenges[i] = &cp
			return nil
		}
	}
	return otp.ErrInvalidOTP()
}

type fakeHasher struct{}

func (fakeHasher) Hash(plain string) (string, error) { return "h:" + plain, nil }
func (fakeHasher) Verify(plain, hash string) bool    { return hash == "h:"+plain }

type fakeMailer struct {
	mu   sync.Mutex
	sent []notifx.EmailMessage
	fail bool
}

func (m *fakeMailer) SendEmail(_ context.Context, msg notifx.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errx.New("smtp down", errx.TypeExternal)
	}
	m.sent = append(m.sent, msg)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

// --- harness ---

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("failed to generate signing key: %v", err)
		}
	})
	return key
}

type harness struct {
	svc     *authsrv.Service
	users   *fakeUserRepo
	refresh *fakeRefreshRepo
	otps    *fakeOtpRepo
	mailer  *fakeMailer
	tokens  *auth.JWTService
}

func newHarness(t *testing.T, refreshTTL time.Duration, opts ...authsrv.Option) *harness {
	t.Helper()
	h := &harness{
		users:   newFakeUserRepo(),
		refresh: newFakeRefreshRepo(),
		otps:    &fakeOtpRepo{},
		mailer:  &fakeMailer{},
		tokens:  auth.NewJWTService(signingKey(t), time.Hour, 24*time.Hour, "test"),
	}
	opts = append([]authsrv.Option{
		authsrv.WithCodeGenerator(func() (string, error) { return "123456", nil }),
	}, opts...)
	h.svc = authsrv.NewService(h.users, h.refresh, h.otps, h.tokens, fakeHasher{}, h.mailer, refreshTTL, opts...)
	return h
}

func (h *harness) register(t *testing.T, email, password string, roles ...string) {
	t.Helper()
	err := h.svc.Register(context.Background(), authsrv.RegisterInput{
		Email:    email,
		FullName: "A",
		MobileNo: "9990001111",
		Password: password,
		Roles:    roles,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
}

// --- tests ---

func TestRegister_DuplicateEmail(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	err := h.svc.Register(context.Background(), authsrv.RegisterInput{
		Email: "a@x.com", Password: "other", MobileNo: "9990002222",
	})
	if !errors.Is(err, user.ErrUserAlreadyExists()) {
		t.Fatalf("expected duplicate-identity error, got %v", err)
	}
}

func TestRegister_AutoVerifiesAndNormalizesRoles(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER", "ADMIN", "USER")

	u, err := h.users.FindByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if !u.IsVerified {
		t.Fatal("registered user should be verified")
	}
	if len(u.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", u.Roles)
	}
	if u.PasswordHash == "pw1" {
		t.Fatal("password must not be stored in plaintext")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	_, err1 := h.svc.Login(context.Background(), "a@x.com", "wrong")
	_, err2 := h.svc.Login(context.Background(), "ghost@x.com", "pw1")

	if !errors.Is(err1, auth.ErrInvalidCredentials()) {
		t.Fatalf("wrong password: expected invalid credentials, got %v", err1)
	}
	if !errors.Is(err2, auth.ErrInvalidCredentials()) {
		t.Fatalf("unknown account: expected invalid credentials, got %v", err2)
	}
	// Anti-enumeration: both paths must be indistinguishable.
	if err1.Error() != err2.Error() {
		t.Fatalf("credential errors differ: %q vs %q", err1.Error(), err2.Error())
	}
}

func TestLogin_IssuesTokenPairAndPersistsRecord(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	pair, err := h.svc.Login(context.Background(), "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if !h.tokens.IsTokenValid(pair.AccessToken) || !h.tokens.IsTokenValid(pair.RefreshToken) {
		t.Fatal("issued tokens should be valid")
	}
	subject, _ := h.tokens.ExtractSubject(pair.AccessToken)
	if subject != "a@x.com" {
		t.Fatalf("access token subject = %q", subject)
	}
	if roles := h.tokens.ExtractRoles(pair.AccessToken); len(roles) != 1 || roles[0] != "USER" {
		t.Fatalf("access token roles = %v", roles)
	}
	if roles := h.tokens.ExtractRoles(pair.RefreshToken); len(roles) != 0 {
		t.Fatalf("refresh token must not carry roles, got %v", roles)
	}

	u, _ := h.users.FindByEmail(context.Background(), "a@x.com")
	record, err := h.refresh.FindByUserID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("expected persisted refresh record: %v", err)
	}
	if record.Token != pair.RefreshToken {
		t.Fatal("ledger should hold the issued refresh token")
	}
}

func TestLogin_SecondLoginOverwritesRecord(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	first, err := h.svc.Login(context.Background(), "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	// Issued-at has second granularity; make sure the second token differs.
	time.Sleep(1100 * time.Millisecond)
	second, err := h.svc.Login(context.Background(), "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	u, _ := h.users.FindByEmail(context.Background(), "a@x.com")
	record, err := h.refresh.FindByUserID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("FindByUserID failed: %v", err)
	}
	if record.Token != second.RefreshToken {
		t.Fatal("ledger should hold the most recent refresh token")
	}
	if len(h.refresh.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(h.refresh.records))
	}

	// The superseded token is still cryptographically valid but must be
	// rejected by the equality check.
	if _, err := h.svc.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, auth.ErrInvalidToken()) {
		t.Fatalf("superseded refresh token: expected invalid token, got %v", err)
	}
	if _, err := h.svc.Refresh(context.Background(), second.RefreshToken); err != nil {
		t.Fatalf("current refresh token should work: %v", err)
	}
}

func TestRefresh_ReturnsSameRefreshToken(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	pair, err := h.svc.Login(context.Background(), "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	refreshed, err := h.svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if refreshed.RefreshToken != pair.RefreshToken {
		t.Fatal("refresh must hand back the same refresh token")
	}
	if !h.tokens.IsTokenValid(refreshed.AccessToken) {
		t.Fatal("refreshed access token should be valid")
	}
	if subject, _ := h.tokens.ExtractSubject(refreshed.AccessToken); subject != "a@x.com" {
		t.Fatalf("refreshed access token subject = %q", subject)
	}
}

func TestRefresh_GarbageToken(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.svc.Refresh(context.Background(), "not-a-token"); !errors.Is(err, auth.ErrInvalidToken()) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestRefresh_NoLedgerRecord(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	// Valid signed token, but no login ever stored a record.
	token, err := h.tokens.GenerateRefreshToken("a@x.com")
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}
	if _, err := h.svc.Refresh(context.Background(), token); !errors.Is(err, auth.ErrInvalidToken()) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestRefresh_PrincipalDeleted(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	pair, err := h.svc.Login(context.Background(), "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	h.users.delete("a@x.com")
	if _, err := h.svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, user.ErrUserNotFound()) {
		t.Fatalf("expected user-not-found, got %v", err)
	}
}

func TestRefresh_LedgerExpiry(t *testing.T) {
	// Ledger window already in the past: the record-level expiry check
	// must reject even a cryptographically valid token.
	h := newHarness(t, -time.Hour)
	h.register(t, "a@x.com", "pw1", "USER")

	pair, err := h.svc.Login(context.Background(), "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := h.svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, auth.ErrInvalidToken()) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestLogin_ConcurrentSameUserSingleRecord(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			if _, err := h.svc.Login(context.Background(), "a@x.com", "pw1"); err != nil {
				t.Errorf("concurrent login failed: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(h.refresh.records) != 1 {
		t.Fatalf("expected exactly one refresh record, got %d", len(h.refresh.records))
	}
	if h.refresh.lostUpdates != 0 {
		t.Fatalf("detected %d lost updates on the refresh ledger", h.refresh.lostUpdates)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	h := newHarness(t, 0, authsrv.WithLoginLimiter(denyLimiter{}))
	h.register(t, "a@x.com", "pw1", "USER")

	if _, err := h.svc.Login(context.Background(), "a@x.com", "pw1"); !errors.Is(err, auth.ErrTooManyRequests()) {
		t.Fatalf("expected too-many-requests, got %v", err)
	}
}

func TestForgotPassword_AntiEnumeration(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	if err := h.svc.ForgotPassword(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("ForgotPassword(existing) failed: %v", err)
	}
	if err := h.svc.ForgotPassword(context.Background(), "ghost@x.com"); err != nil {
		t.Fatalf("ForgotPassword(nonexistent) failed: %v", err)
	}

	// Only the existing account produced a challenge and an email.
	if len(h.otps.challenges) != 1 {
		t.Fatalf("expected one challenge, got %d", len(h.otps.challenges))
	}
	if len(h.mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(h.mailer.sent))
	}

	msg := h.mailer.sent[0]
	if msg.To[0] != "a@x.com" || msg.Subject != notifx.OTPEmailSubject {
		t.Fatalf("unexpected email: %+v", msg)
	}
	if msg.TextBody != notifx.BuildOTPMessage("123456") {
		t.Fatalf("unexpected email body: %q", msg.TextBody)
	}
}

func TestForgotPassword_MailerFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")
	h.mailer.fail = true

	err := h.svc.ForgotPassword(context.Background(), "a@x.com")
	if err == nil {
		t.Fatal("expected failure when email cannot be sent")
	}
	var e *errx.Error
	if !errors.As(err, &e) || (e.Type != errx.TypeExternal && e.Type != errx.TypeInternal) {
		t.Fatalf("transport failure should surface as internal/external, got %v", err)
	}
}

func TestResetPassword_FullFlow(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	if err := h.svc.ForgotPassword(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}

	ctx := context.Background()
	if err := h.svc.ResetPassword(ctx, "a@x.com", "654321", "pw2"); !errors.Is(err, otp.ErrInvalidOTP()) {
		t.Fatalf("wrong code: expected invalid OTP, got %v", err)
	}
	if err := h.svc.ResetPassword(ctx, "a@x.com", "123456", "pw2"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, err := h.svc.Login(ctx, "a@x.com", "pw1"); !errors.Is(err, auth.ErrInvalidCredentials()) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
	if _, err := h.svc.Login(ctx, "a@x.com", "pw2"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	// Single use: the same code cannot be redeemed twice.
	if err := h.svc.ResetPassword(ctx, "a@x.com", "123456", "pw3"); !errors.Is(err, otp.ErrOTPExpiredOrUsed()) {
		t.Fatalf("reused code: expected expired-or-used, got %v", err)
	}
}

func TestResetPassword_NoChallenge(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	if err := h.svc.ResetPassword(context.Background(), "a@x.com", "123456", "pw2"); !errors.Is(err, otp.ErrInvalidOTP()) {
		t.Fatalf("expected invalid OTP, got %v", err)
	}
}

func TestResetPassword_ExpiredChallenge(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	h.otps.Create(context.Background(), &otp.Challenge{
		ID:        "c1",
		Email:     "a@x.com",
		Code:      "123456",
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	if err := h.svc.ResetPassword(context.Background(), "a@x.com", "123456", "pw2"); !errors.Is(err, otp.ErrOTPExpiredOrUsed()) {
		t.Fatalf("expected expired-or-used, got %v", err)
	}
}

func TestResetPassword_LatestChallengeWins(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	now := time.Now()
	h.otps.Create(context.Background(), &otp.Challenge{
		ID: "c1", Email: "a@x.com", Code: "111111", ExpiresAt: now.Add(5 * time.Minute),
	})
	h.otps.Create(context.Background(), &otp.Challenge{
		ID: "c2", Email: "a@x.com", Code: "222222", ExpiresAt: now.Add(10 * time.Minute),
	})

	// Only the most recently issued challenge resolves.
	if err := h.svc.ResetPassword(context.Background(), "a@x.com", "111111", "pw2"); !errors.Is(err, otp.ErrInvalidOTP()) {
		t.Fatalf("older code: expected invalid OTP, got %v", err)
	}
	if err := h.svc.ResetPassword(context.Background(), "a@x.com", "222222", "pw2"); err != nil {
		t.Fatalf("latest code should succeed: %v", err)
	}
}

func TestResetPassword_FailedUpdateLeavesChallengeUnused(t *testing.T) {
	h := newHarness(t, 0)
	h.register(t, "a@x.com", "pw1", "USER")

	if err := h.svc.ForgotPassword(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}

	h.users.failUpdate = true
	if err := h.svc.ResetPassword(context.Background(), "a@x.com", "123456", "pw2"); err == nil {
		t.Fatal("expected failure when the password update fails")
	}

	// The code stays redeemable so the caller can retry.
	h.users.failUpdate = false
	if err := h.svc.ResetPassword(context.Background(), "a@x.com", "123456", "pw2"); err != nil {
		t.Fatalf("retry with same code should succeed: %v", err)
	}
}
