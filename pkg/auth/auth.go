// Package auth provides the credential sources the fetch client draws
// bearer tokens from.
package auth

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNoToken     = errors.New("auth: no token available")
	ErrLockTimeout = errors.New("auth: token file lock timeout")
)

// Source supplies bearer tokens. Reset drops any cached token so the next
// Token call fetches a fresh one. Implementations must be safe for
// concurrent use.
type Source interface {
	Token(ctx context.Context) (string, error)
	Reset()
}

// Notifier announces that a fresh token is available, which also means
// any quota tied to the old one may have been restored.
type Notifier interface {
	// OnRefresh registers fn and returns a function that unregisters it.
	OnRefresh(fn func()) (cancel func())
}

// StaticSource always returns the same token.
type StaticSource string

// Token returns the token, or ErrNoToken if it is empty.
func (s StaticSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Reset is a no-op.
func (StaticSource) Reset() {}

// subscribers is a set of refresh callbacks.
type subscribers struct {
	mu     sync.Mutex
	fns    map[int]func()
	nextID int
}

func (s *subscribers) add(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func())
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

// notify calls every callback outside the lock.
func (s *subscribers) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
