// Package authstate keeps the client's authenticated credentials and profile.
package authstate

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/shopcart/internal/model"
)

// defaultTTL is assumed when the access token carries no exp claim.
const defaultTTL = 15 * time.Minute

type authFile struct {
	AccessToken string         `json:"access_token"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Profile     *model.Profile `json:"profile,omitempty"`
}

// State holds the current credential. A zero path keeps it in memory only.
type State struct {
	mu      sync.RWMutex
	path    string
	token   string
	exp     time.Time
	profile *model.Profile
	now     func() time.Time
	log     *zap.Logger
}

// NewMemory returns an in-memory state.
func NewMemory() *State {
	return &State{now: time.Now, log: zap.NewNop()}
}

// NewFile returns a state persisted at path, loading any previous credential.
func NewFile(path string, log *zap.Logger) *State {
	if log == nil {
		log = zap.NewNop()
	}
	s := &State{path: path, now: time.Now, log: log}
	s.load()
	return s
}

func (s *State) load() {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("read auth file", zap.Error(err))
		}
		return
	}
	var af authFile
	if err := json.Unmarshal(b, &af); err != nil {
		s.log.Warn("corrupt auth file, ignoring", zap.Error(err))
		return
	}
	s.token, s.exp, s.profile = af.AccessToken, af.ExpiresAt, af.Profile
}

// Reload re-reads the backing file, picking up changes made by other processes.
func (s *State) Reload() {
	if s.path == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.exp, s.profile = "", time.Time{}, nil
	s.load()
}

// AccessToken returns the bearer token, or "" when absent or expired.
func (s *State) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.now().After(s.exp) {
		return ""
	}
	return s.token
}

// Authenticated reports whether a usable access token is present.
func (s *State) Authenticated() bool { return s.AccessToken() != "" }

// Profile returns the cached profile of the logged-in user, if refreshed.
func (s *State) Profile() (model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return model.Profile{}, false
	}
	return *s.profile, true
}

// SetToken stores a freshly issued token. When expiresAt is zero it is taken from the JWT exp claim.
func (s *State) SetToken(token string, expiresAt time.Time) error {
	if expiresAt.IsZero() {
		expiresAt = TokenExpiry(token, s.now())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.exp, s.profile = token, expiresAt, nil
	return s.persist()
}

// SetProfile caches the refreshed profile.
func (s *State) SetProfile(p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = &p
	return s.persist()
}

// Clear drops every local credential.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.exp, s.profile = "", time.Time{}, nil
	if s.path == "" {
		return
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("remove auth file", zap.Error(err))
	}
}

func (s *State) persist() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(authFile{AccessToken: s.token, ExpiresAt: s.exp, Profile: s.profile}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

// TokenExpiry reads the exp claim without verifying the signature; the server remains the judge.
func TokenExpiry(token string, now time.Time) time.Time {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return now.Add(defaultTTL)
	}
	return claims.ExpiresAt.Time
}
