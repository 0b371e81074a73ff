// Package service contains the reference API's application services: accounts and carts.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgcrypto "github.com/and161185/shopcart/internal/crypto"
	"github.com/and161185/shopcart/internal/errs"
	"github.com/and161185/shopcart/internal/limiter"
	"github.com/and161185/shopcart/internal/model"
	"github.com/and161185/shopcart/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// MinPasswordLen is the shortest password Register accepts.
const MinPasswordLen = 6

// AuthService defines account and token operations.
type AuthService interface {
	// Register creates a customer account.
	Register(ctx context.Context, email, password, name string) (model.Profile, error)
	// LoginWithIP applies rate-limiting and authenticates the user.
	LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error)
	// Authenticate verifies an access token and loads its user.
	Authenticate(ctx context.Context, token string) (model.User, error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	params    pkgcrypto.Params
	now       func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{
		users:     users,
		signKey:   signKey,
		accessTTL: accessTTL,
		lim:       lim,
		params:    pkgcrypto.Default,
		now:       time.Now,
	}
}

// WithHashParams overrides the Argon2id cost; tests use a cheap setting.
func (s *AuthServiceImpl) WithHashParams(p pkgcrypto.Params) *AuthServiceImpl {
	s.params = p
	return s
}

// Register validates input, hashes the password and stores the account under its normalized email.
func (s *AuthServiceImpl) Register(ctx context.Context, email, password, name string) (model.Profile, error) {
	email = limiter.NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return model.Profile{}, fmt.Errorf("%w: email", errs.ErrInvalidInput)
	}
	if len(password) < MinPasswordLen {
		return model.Profile{}, fmt.Errorf("%w: password shorter than %d", errs.ErrInvalidInput, MinPasswordLen)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.Profile{}, err
	}
	hash, err := pkgcrypto.HashPassword(password, s.params)
	if err != nil {
		return model.Profile{}, err
	}
	u := &model.User{
		ID:      uid,
		Email:   email,
		Name:    strings.TrimSpace(name),
		PwdHash: hash,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return model.Profile{}, err
	}
	return u.Profile(), nil
}

// LoginWithIP authenticates with rate limiting by (email, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error) {
	email = limiter.NormalizeEmail(email)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	if err != nil || !s.passwordOK(password, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, email, ipHash)

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

func (s *AuthServiceImpl) passwordOK(password, encoded string) bool {
	ok, err := pkgcrypto.VerifyPassword(password, encoded)
	return err == nil && ok
}

// Authenticate verifies HS256 and expiry, then loads the subject. A deleted user is unauthorized.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (model.User, error) {
	id, err := s.verifyAccessToken(token)
	if err != nil {
		return model.User{}, err
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return model.User{}, errs.ErrUnauthorized
	}
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		ID:        uuid.Must(uuid.NewV4()).String(),
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

func (s *AuthServiceImpl) verifyAccessToken(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return id, nil
}
