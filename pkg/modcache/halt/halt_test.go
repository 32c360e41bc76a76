package halt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReturns(s *Service, d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Wait(ctx) == nil
}

func TestWaitIdleImmediately(t *testing.T) {
	s := New()
	assert.False(t, s.Halted())
	assert.True(t, waitReturns(s, 10*time.Millisecond))
}

func TestTwoTagsMustBothResume(t *testing.T) {
	s := New()
	s.Halt("integrity-check")
	s.Halt("combat")

	done := make(chan struct{})
	go func() {
		_ = s.Wait(context.Background())
		close(done)
	}()

	s.Resume("combat")
	select {
	case <-done:
		t.Fatal("wait returned while integrity-check was still held")
	case <-time.After(50 * time.Millisecond):
	}

	s.Resume("integrity-check")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after all tags resumed")
	}
}

func TestSameTagIsCounted(t *testing.T) {
	s := New()
	s.Halt("convert")
	s.Halt("convert")
	s.Resume("convert")

	assert.True(t, s.Halted())
	assert.Equal(t, map[string]int{"convert": 1}, s.Holders())

	s.Resume("convert")
	assert.False(t, s.Halted())
}

func TestResumeFloorsAtZero(t *testing.T) {
	s := New()
	s.Resume("never-held")
	assert.False(t, s.Halted())

	s.Halt("a")
	s.Resume("a")
	s.Resume("a")
	s.Halt("a")
	assert.True(t, s.Halted(), "extra resume must not pre-release a later halt")
}

func TestAcquireReleaseIsIdempotent(t *testing.T) {
	s := New()
	release := s.Acquire("verify")
	other := s.Acquire("verify")

	release()
	release()
	assert.True(t, s.Halted())

	other()
	assert.False(t, s.Halted())
}

func TestTryAcquire(t *testing.T) {
	s := New()
	s.Halt("combat")
	_, ok := s.TryAcquire("quota-eviction")
	assert.False(t, ok, "another tag is held")

	s.Resume("combat")
	release, ok := s.TryAcquire("quota-eviction")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"quota-eviction": 1}, s.Holders())

	_, ok = s.TryAcquire("quota-eviction")
	assert.False(t, ok)

	release()
	release()
	assert.False(t, s.Halted())
	assert.True(t, waitReturns(s, 10*time.Millisecond))
}

func TestWaitAcquireWaitsThenHolds(t *testing.T) {
	s := New()
	s.Halt("combat")

	got := make(chan func(), 1)
	go func() {
		release, err := s.WaitAcquire(context.Background(), "quota-eviction")
		assert.NoError(t, err)
		got <- release
	}()

	select {
	case <-got:
		t.Fatal("acquired while another tag was held")
	case <-time.After(50 * time.Millisecond):
	}

	s.Resume("combat")
	select {
	case release := <-got:
		assert.Equal(t, map[string]int{"quota-eviction": 1}, s.Holders())
		release()
	case <-time.After(5 * time.Second):
		t.Fatal("not acquired after resume")
	}
	assert.False(t, s.Halted())
}

func TestWaitAcquireIsExclusive(t *testing.T) {
	s := New()
	var (
		inside   atomic.Int32
		overlaps atomic.Int32
		wg       sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				release, err := s.WaitAcquire(context.Background(), "sweep")
				if !assert.NoError(t, err) {
					return
				}
				if inside.Add(1) != 1 || s.Holders()["sweep"] != 1 {
					overlaps.Add(1)
				}
				inside.Add(-1)
				release()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, overlaps.Load())
	assert.False(t, s.Halted())
}

func TestWaitAcquireHonorsContext(t *testing.T) {
	s := New()
	s.Halt("forever")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.WaitAcquire(ctx, "quota-eviction")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, map[string]int{"forever": 1}, s.Holders())
}

func TestWaitHonorsContext(t *testing.T) {
	s := New()
	s.Halt("forever")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestConcurrentHaltResume(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tag := []string{"a", "b", "c"}[i%3]
			release := s.Acquire(tag)
			release()
		}()
	}
	wg.Wait()

	require.False(t, s.Halted())
	assert.Empty(t, s.Holders())
}
