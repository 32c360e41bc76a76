// Package halt implements a named, reference-counted pause service.
//
// Any subsystem may hold a pause under its own tag ("integrity-check",
// "combat", "texture-conversion", ...). Reconciliation waits until no tag is
// held at all, so holders never need to know about each other.
package halt

import (
	"context"
	"sync"
)

// Service tracks outstanding halt requests. The zero value is not usable;
// call New.
type Service struct {
	mu    sync.Mutex
	holds map[string]int
	idle  chan struct{} // closed while no tag is held
}

// New returns a Service with nothing held.
func New() *Service {
	idle := make(chan struct{})
	close(idle)
	return &Service{
		holds: make(map[string]int),
		idle:  idle,
	}
}

// Halt increments the counter for tag.
func (s *Service) Halt(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.holds) == 0 {
		s.idle = make(chan struct{})
	}
	s.holds[tag]++
}

// Resume decrements the counter for tag. Resuming a tag that is not held
// is a no-op.
func (s *Service) Resume(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.holds[tag]
	if !ok {
		return
	}
	if n <= 1 {
		delete(s.holds, tag)
	} else {
		s.holds[tag] = n - 1
	}
	if len(s.holds) == 0 {
		close(s.idle)
	}
}

// Acquire halts under tag and returns a release func. Calling release more
// than once has no further effect.
//
//	release := h.Acquire("integrity-check")
//	defer release()
func (s *Service) Acquire(tag string) (release func()) {
	s.Halt(tag)
	var once sync.Once
	return func() {
		once.Do(func() { s.Resume(tag) })
	}
}

// TryAcquire halts under tag only if nothing else is held, checking and
// taking the hold under one lock. ok is false when another tag is held.
func (s *Service) TryAcquire(tag string) (release func(), ok bool) {
	s.mu.Lock()
	if len(s.holds) > 0 {
		s.mu.Unlock()
		return nil, false
	}
	s.idle = make(chan struct{})
	s.holds[tag] = 1
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.Resume(tag) })
	}, true
}

// WaitAcquire blocks until nothing is held and then holds tag, so no other
// holder can slip in between the wait and the hold.
func (s *Service) WaitAcquire(ctx context.Context, tag string) (release func(), err error) {
	for {
		if err := s.Wait(ctx); err != nil {
			return nil, err
		}
		if release, ok := s.TryAcquire(tag); ok {
			return release, nil
		}
	}
}

// Halted reports whether any tag is currently held.
func (s *Service) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holds) > 0
}

// Holders returns a copy of the outstanding counts by tag.
func (s *Service) Holders() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.holds))
	for tag, n := range s.holds {
		out[tag] = n
	}
	return out
}

// Idle returns a channel that is closed once no tag is held. The channel
// reflects the state at the time of the call; a later Halt does not reopen it.
func (s *Service) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Wait blocks until no tag is held or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	for {
		select {
		case <-s.Idle():
			// A new hold may have been taken between the close and now.
			if !s.Halted() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
