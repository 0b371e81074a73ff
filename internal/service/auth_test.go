package service

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/shopcart/internal/crypto"
	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/limiter"
	"github.com/and161185/shopcart/internal/model"
	"github.com/and161185/shopcart/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

var cheapHash = pkgcrypto.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16, SaltLen: 8}

type fakeUsers struct {
	byEmail map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byEmail == nil {
		f.byEmail = map[string]*model.User{}
	}
	if _, exists := f.byEmail[u.Email]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byEmail[u.Email] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	lastEmail    string
	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, email string, _ []byte) (bool, time.Duration, error) {
	l.allowCalls++
	l.lastEmail = email
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func newAuth(users *fakeUsers, ttl time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return NewAuthService(users, []byte("secret"), ttl, lim).WithHashParams(cheapHash)
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	s := newAuth(users, time.Minute, &fakeLimiter{})
	ctx := context.Background()

	if _, err := s.Register(ctx, "no-at-sign", "secret1", ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput on bad email, got %v", err)
	}
	if _, err := s.Register(ctx, "ana@shop.test", "123", ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput on short password, got %v", err)
	}

	p, err := s.Register(ctx, "  Ana@Shop.TEST ", "secret1", " Ana ")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.ID == uuid.Nil || p.Email != "ana@shop.test" || p.Name != "Ana" {
		t.Fatalf("bad profile: %+v", p)
	}
	stored := users.byEmail["ana@shop.test"]
	if stored == nil || stored.PwdHash == "" || stored.PwdHash == "secret1" {
		t.Fatalf("password must be stored hashed: %+v", stored)
	}

	if _, err := s.Register(ctx, "ana@shop.test", "secret2", ""); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate email, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(ctx, "bo@shop.test", "secret1", ""); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_LoginWithIP_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{}
	lim := &fakeLimiter{allowOK: true}
	s := newAuth(users, 2*time.Minute, lim)
	ctx := context.Background()
	p, err := s.Register(ctx, "ana@shop.test", "correct", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.LoginWithIP(ctx, "ana@shop.test", "correct", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.LoginWithIP(ctx, "ana@shop.test", "correct", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	if _, _, err := s.LoginWithIP(ctx, "nobody@shop.test", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}

	users.getErr = errors.New("db down")
	if _, _, err := s.LoginWithIP(ctx, "ana@shop.test", "correct", ""); err == nil || errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want storage error surfaced as is, got %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, _, err := s.LoginWithIP(ctx, "ana@shop.test", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.LoginWithIP(ctx, "ana@shop.test", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, gotUser, err := s.LoginWithIP(ctx, "ANA@shop.test", "correct", "127.0.0.1")
	if err != nil {
		t.Fatalf("LoginWithIP success: %v", err)
	}
	if tok.AccessToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if gotUser.ID != p.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 || lim.lastEmail != "ana@shop.test" {
		t.Fatalf("limiter must see the normalized email, got %q (success calls %d)", lim.lastEmail, lim.successCalls)
	}
}

func TestAuth_Authenticate_RoundTrip(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{}
	s := newAuth(users, time.Minute, &fakeLimiter{allowOK: true})
	ctx := context.Background()
	p, _ := s.Register(ctx, "bo@shop.test", "secret1", "Bo")

	tok, _, err := s.LoginWithIP(ctx, "bo@shop.test", "secret1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	u, err := s.Authenticate(ctx, tok.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Profile() != p {
		t.Fatalf("profile mismatch: %+v vs %+v", u.Profile(), p)
	}

	delete(users.byEmail, "bo@shop.test")
	if _, err := s.Authenticate(ctx, tok.AccessToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for deleted user, got %v", err)
	}
}

func TestAuth_Authenticate_RejectsBadTokens(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{}
	s := newAuth(users, time.Minute, &fakeLimiter{allowOK: true})
	ctx := context.Background()
	p, _ := s.Register(ctx, "bo@shop.test", "secret1", "")

	sign := func(key []byte, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := map[string]string{
		"garbage":       "not.a.jwt",
		"wrong key":     sign([]byte("other"), jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: p.ID.String(), ExpiresAt: future}),
		"wrong alg":     sign([]byte("secret"), jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: p.ID.String(), ExpiresAt: future}),
		"expired":       sign([]byte("secret"), jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: p.ID.String(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}),
		"no expiry":     sign([]byte("secret"), jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: p.ID.String()}),
		"bad subject":   sign([]byte("secret"), jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "nope", ExpiresAt: future}),
		"empty subject": sign([]byte("secret"), jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: future}),
	}
	for name, tok := range cases {
		if _, err := s.Authenticate(ctx, tok); !errors.Is(err, errs.ErrUnauthorized) {
			t.Fatalf("%s: want ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestAuth_AccessTokenTTL(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{}
	s := newAuth(users, 10*time.Minute, &fakeLimiter{allowOK: true})
	fixed := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()
	_, _ = s.Register(ctx, "bo@shop.test", "secret1", "")

	tk, _, err := s.LoginWithIP(ctx, "bo@shop.test", "secret1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !tk.ExpiresAt.Equal(fixed.Add(10 * time.Minute)) {
		t.Fatalf("expiry=%v, want %v", tk.ExpiresAt, fixed.Add(10*time.Minute))
	}

	s.now = func() time.Time { return fixed.Add(11 * time.Minute) }
	if _, err := s.Authenticate(ctx, tk.AccessToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want expired token rejected, got %v", err)
	}
}
