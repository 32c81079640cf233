package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/VoiceraAI/voicera-mvp/pkg/fn"
)

// fakeClock advances only when told to, so token refill is deterministic.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// --- Limiter ---

func TestLimiterAllowRespectsBurst(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 3})
	l.now = clock.now

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("request %d within burst should pass", i)
		}
	}
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}
}

func TestLimiterRefills(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := NewLimiter(LimiterOpts{Rate: 2, Burst: 1})
	l.now = clock.now

	if !l.Allow() {
		t.Fatal("first request should pass")
	}
	if l.Allow() {
		t.Fatal("second immediate request should be limited")
	}
	clock.advance(500 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("half a second at 2/s should refill one token")
	}
}

func TestLimiterZeroRateDefaults(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := NewLimiter(LimiterOpts{})
	l.now = clock.now

	if !l.Allow() {
		t.Fatal("burst token should pass")
	}
	if l.Allow() {
		t.Fatal("empty bucket should limit")
	}
	clock.advance(time.Second)
	if !l.Allow() {
		t.Fatal("defaulted rate should refill one token per second")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait on an empty bucket must block, not divide by zero: %v", err)
	}
}

func TestLimiterRefillCapped(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 2})
	l.now = clock.now

	l.Allow()
	l.Allow()
	clock.advance(time.Hour)
	allowed := 0
	for l.Allow() {
		allowed++
	}
	if allowed != 2 {
		t.Fatalf("refill must cap at burst, got %d tokens", allowed)
	}
}

func TestPerMinuteCeiling(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	l := NewLimiter(PerMinute(20))
	l.now = clock.now

	granted := 0
	for i := 0; i < 60; i++ {
		if l.Allow() {
			granted++
		}
		clock.advance(time.Second)
	}
	if granted > 20 {
		t.Fatalf("granted %d requests in a minute, ceiling is 20", granted)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

// --- Breaker ---

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Minute})
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }

	for i := 0; i < 3; i++ {
		if err := b.Call(context.Background(), fail); !errors.Is(err, boom) {
			t.Fatalf("call %d should pass through the inner error", i)
		}
	}
	if b.State() != StateOpen {
		t.Fatal("breaker should be open after threshold")
	}
	if err := b.Call(context.Background(), fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker should reject, got %v", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	b.now = clock.now

	b.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	if b.State() != StateOpen {
		t.Fatal("breaker should trip")
	}

	clock.advance(2 * time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatal("breaker should probe after timeout")
	}
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatal("probe should be admitted")
	}
	if b.State() != StateClosed {
		t.Fatal("successful probe should close the breaker")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	b.now = clock.now

	b.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	clock.advance(2 * time.Minute)
	b.Call(context.Background(), func(context.Context) error { return errors.New("again") })
	if b.State() != StateOpen {
		t.Fatal("failed probe should reopen the breaker")
	}
}

func TestBreakerIgnoresDesignatedErrors(t *testing.T) {
	b := NewBreaker(BreakerOpts{
		FailThreshold: 1,
		Timeout:       time.Minute,
		Ignore:        func(err error) bool { return errors.Is(err, ErrRateLimited) },
	})
	for i := 0; i < 10; i++ {
		b.Call(context.Background(), func(context.Context) error { return ErrRateLimited })
	}
	if b.State() != StateClosed {
		t.Fatal("ignored errors must not trip the breaker")
	}
}

func TestCallResult(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	r := CallResult(b, context.Background(), func(context.Context) fn.Result[int] {
		return fn.Ok(9)
	})
	if v, _ := r.Unwrap(); v != 9 {
		t.Fatal("CallResult should return the inner value")
	}

	CallResult(b, context.Background(), func(context.Context) fn.Result[int] {
		return fn.Errf[int]("dead")
	})
	r = CallResult(b, context.Background(), func(context.Context) fn.Result[int] {
		return fn.Ok(1)
	})
	if !errors.Is(r.Error(), ErrCircuitOpen) {
		t.Fatal("open breaker should short-circuit CallResult")
	}
}
