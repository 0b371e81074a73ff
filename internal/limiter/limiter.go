// Package limiter throttles failed customer logins per (email, client address).
package limiter

import (
	"context"
	"crypto/sha256"
	"strings"
	"sync"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a login is currently allowed and, if not, the remaining lockout.
	Allow(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, email string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error)
}

// Policy is the sliding-window lockout rule shared by all implementations.
type Policy struct {
	Window   time.Duration // failures older than this are forgotten
	MaxFails int
	BlockFor time.Duration
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// NormalizeEmail folds case and surrounding space so "A@x.io " and "a@x.io" share a counter.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type attempt struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// Memory is an in-process limiter for single-instance deployments and tests.
type Memory struct {
	p   Policy
	now func() time.Time

	mu   sync.Mutex
	rows map[string]*attempt
}

// NewMemory returns an empty in-process limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{p: p, now: time.Now, rows: make(map[string]*attempt)}
}

func memKey(email string, ipHash []byte) string {
	return NormalizeEmail(email) + "|" + string(ipHash)
}

func (m *Memory) Allow(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[memKey(email, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); a.blockedUntil.After(now) {
		return false, a.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, email string, ipHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, memKey(email, ipHash))
	return nil
}

func (m *Memory) Failure(_ context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := memKey(email, ipHash)
	a, ok := m.rows[k]
	if !ok || now.Sub(a.updatedAt) > m.p.Window {
		a = &attempt{}
		m.rows[k] = a
	}
	a.fails++
	a.updatedAt = now
	if a.fails >= m.p.MaxFails {
		a.blockedUntil = now.Add(m.p.BlockFor)
		return true, m.p.BlockFor, nil
	}
	return false, 0, nil
}
