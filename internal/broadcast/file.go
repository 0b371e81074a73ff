package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// File broadcasts through a marker file in a directory shared by every local instance.
// Publish overwrites the marker; subscribers poll it and emit each event id once.
type File struct {
	path     string
	interval time.Duration
	log      *zap.Logger
}

// NewFile returns a broadcaster using path as marker, polled every interval (default 500ms).
func NewFile(path string, interval time.Duration, log *zap.Logger) *File {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &File{path: path, interval: interval, log: log}
}

func (f *File) Publish(_ context.Context, ev Event) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".event-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *File) read() (Event, bool) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.log.Warn("read event marker", zap.Error(err))
		}
		return Event{}, false
	}
	ev, err := decode(b)
	if err != nil {
		f.log.Warn("corrupt event marker", zap.Error(err))
		return Event{}, false
	}
	return ev, true
}

// Subscribe skips whatever event is already on disk and reports only newer ones.
func (f *File) Subscribe(ctx context.Context) (<-chan Event, error) {
	last, _ := f.read()
	out := make(chan Event, subBuffer)

	go func() {
		defer close(out)
		t := time.NewTicker(f.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			ev, ok := f.read()
			if !ok || ev.ID == last.ID {
				continue
			}
			last = ev
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *File) Close() error { return nil }
