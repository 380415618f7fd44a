package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

const (
	lockTimeout = time.Second
	lockRetry   = 20 * time.Millisecond
)

// FileSource reads a bearer token from a file and caches it until Reset.
// Reads take a shared lock and Store takes an exclusive one on path+".lock",
// so concurrent processes never observe a half-written token.
type FileSource struct {
	path   string
	logger *slog.Logger
	group  singleflight.Group
	subs   subscribers

	mu    sync.Mutex
	token string
}

// NewFileSource creates a source backed by path. A nil logger uses slog.Default().
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: filepath.Clean(path), logger: logger}
}

// Path returns the token file path.
func (s *FileSource) Path() string {
	return s.path
}

// Token returns the cached token, loading it from disk on first use or after
// Reset. Concurrent loads are coalesced into one read.
func (s *FileSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()
	if tok != "" {
		return tok, nil
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.load(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Reset drops the cached token.
func (s *FileSource) Reset() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// OnRefresh registers fn to run after Store or after Watch sees a new token.
func (s *FileSource) OnRefresh(fn func()) func() {
	return s.subs.add(fn)
}

// Store writes token to the file atomically, caches it and notifies subscribers.
func (s *FileSource) Store(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("auth: create token dir: %w", err)
	}

	unlock, err := s.lock(ctx, false)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".token-*")
	if err != nil {
		return fmt.Errorf("auth: write token: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(token + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: write token: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: write token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: write token: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("auth: write token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.logger.Info("token stored", "path", s.path)
	s.subs.notify()
	return nil
}

func (s *FileSource) load(ctx context.Context) (string, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoToken
	}

	unlock, err := s.lock(ctx, true)
	if err != nil {
		return "", err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("auth: read token: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNoToken
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	return tok, nil
}

// lock takes a shared or exclusive lock on the sidecar lock file.
func (s *FileSource) lock(ctx context.Context, shared bool) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	fl := flock.New(s.path + ".lock")
	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = fl.TryRLockContext(ctx, lockRetry)
	} else {
		locked, err = fl.TryLockContext(ctx, lockRetry)
	}
	if err != nil || !locked {
		return nil, ErrLockTimeout
	}
	return func() { fl.Unlock() }, nil
}
