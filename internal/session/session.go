// Package session owns the anonymous shopper token that identifies a guest cart.
package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Holder is the single owner of the persisted guest token.
type Holder interface {
	// Get returns the persisted token or "" when none has been issued yet. It never mints one.
	Get() string
	// Set overwrites the persisted token.
	Set(token string)
	// Clear removes the persisted token.
	Clear()
	// Rotate replaces the token with a freshly generated one and returns it.
	Rotate() string
}

// NewToken returns a random UUID v4 string.
func NewToken() string {
	return uuid.Must(uuid.NewV4()).String()
}

// ---- in-memory ----

// MemoryHolder keeps the token in memory only.
type MemoryHolder struct {
	mu    sync.Mutex
	token string
}

// NewMemory returns a holder seeded with token (may be empty).
func NewMemory(token string) *MemoryHolder { return &MemoryHolder{token: token} }

func (m *MemoryHolder) Get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *MemoryHolder) Set(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *MemoryHolder) Clear() { m.Set("") }

func (m *MemoryHolder) Rotate() string {
	t := NewToken()
	m.Set(t)
	return t
}

// ---- file ----

type sessionFile struct {
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileHolder persists the token as JSON in a file. Writes are best-effort: a failed write is
// logged and the in-memory value is still updated, so the worst case is a fresh guest next run.
type FileHolder struct {
	mu    sync.Mutex
	path  string
	token string
	log   *zap.Logger
}

// NewFile loads the token stored at path, if any.
func NewFile(path string, log *zap.Logger) *FileHolder {
	if log == nil {
		log = zap.NewNop()
	}
	h := &FileHolder{path: path, log: log}
	h.token = h.load()
	return h
}

// Path returns the backing file path.
func (h *FileHolder) Path() string { return h.path }

func (h *FileHolder) load() string {
	b, err := os.ReadFile(h.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.log.Warn("read session file", zap.String("path", h.path), zap.Error(err))
		}
		return ""
	}
	var sf sessionFile
	if err := json.Unmarshal(b, &sf); err != nil {
		h.log.Warn("corrupt session file, ignoring", zap.String("path", h.path), zap.Error(err))
		return ""
	}
	return sf.SessionID
}

// Reload re-reads the file; other processes sharing the file may have replaced the token.
func (h *FileHolder) Reload() string {
	t := h.load()
	h.mu.Lock()
	h.token = t
	h.mu.Unlock()
	return t
}

func (h *FileHolder) Get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

func (h *FileHolder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
	if err := h.persist(token); err != nil {
		h.log.Warn("persist session token", zap.String("path", h.path), zap.Error(err))
	}
}

func (h *FileHolder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = ""
	if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.log.Warn("remove session file", zap.String("path", h.path), zap.Error(err))
	}
}

func (h *FileHolder) Rotate() string {
	t := NewToken()
	h.Set(t)
	return t
}

// persist writes via a temp file + rename so readers never observe a half-written file.
func (h *FileHolder) persist(token string) error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(sessionFile{SessionID: token, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, h.path)
}
