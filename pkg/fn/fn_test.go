package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestErrf(t *testing.T) {
	r := Errf[string]("code %d", 404)
	_, err := r.Unwrap()
	if err == nil || err.Error() != "code 404" {
		t.Fatal("Errf wrong message")
	}
}

func TestUnwrapOr(t *testing.T) {
	if Ok(1).UnwrapOr(9) != 1 {
		t.Fatal("should return value")
	}
	if Err[int](errors.New("x")).UnwrapOr(9) != 9 {
		t.Fatal("should return fallback")
	}
}

func TestMapResult(t *testing.T) {
	r := MapResult(Ok(5), func(v int) string { return strconv.Itoa(v) })
	if v, _ := r.Unwrap(); v != "5" {
		t.Fatal("MapResult failed")
	}
	e := MapResult(Err[int](errors.New("x")), func(v int) string { return "" })
	if e.IsOk() {
		t.Fatal("MapResult on Err should stay Err")
	}
}

func TestFromPair(t *testing.T) {
	r := FromPair(strconv.Atoi("42"))
	if v, _ := r.Unwrap(); v != 42 {
		t.Fatal("FromPair failed")
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("FromPair should fail")
	}
}

func TestCollect(t *testing.T) {
	all := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)})
	v, err := all.Unwrap()
	if err != nil || len(v) != 3 || v[0] != 1 {
		t.Fatal("Collect failed")
	}

	bad := Collect([]Result[int]{Ok(1), Err[int](errors.New("e1")), Err[int](errors.New("e2"))})
	if _, err := bad.Unwrap(); err == nil || err.Error() != "e1" {
		t.Fatal("Collect should return first error")
	}
}

func TestCollectOk(t *testing.T) {
	got := CollectOk([]Result[int]{Ok(1), Err[int](errors.New("drop")), Ok(3)})
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("CollectOk kept %v", got)
	}
	if got := CollectOk([]Result[int]{Err[int](errors.New("a"))}); len(got) != 0 {
		t.Fatal("all-failed CollectOk should be empty, not an error")
	}
}

// --- Slices ---

func TestChunk(t *testing.T) {
	got := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("Chunk wrong shape: %v", got)
	}
	if got[2][0] != 5 {
		t.Fatal("Chunk lost order")
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk with n<=0 should be nil")
	}
	if len(Chunk([]int{}, 3)) != 0 {
		t.Fatal("Chunk empty should be empty")
	}
}

func TestCap(t *testing.T) {
	if got := Cap([]int{1, 2, 3}, 2); len(got) != 2 || got[1] != 2 {
		t.Fatalf("Cap wrong: %v", got)
	}
	if got := Cap([]int{1, 2}, 5); len(got) != 2 {
		t.Fatal("Cap under limit should be unchanged")
	}
	if got := Cap([]int{1, 2}, -1); len(got) != 2 {
		t.Fatal("negative cap means no cap")
	}
}

func TestUnique(t *testing.T) {
	got := Unique([]string{"a", "b", "a", "c", "b"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("Unique wrong: %v", got)
	}
}

func TestUniqueBy(t *testing.T) {
	type item struct{ url, title string }
	got := UniqueBy([]item{{"u1", "first"}, {"u2", "x"}, {"u1", "dup"}}, func(i item) string { return i.url })
	if len(got) != 2 || got[0].title != "first" {
		t.Fatal("UniqueBy should keep first occurrence")
	}
}

func TestFilterMap(t *testing.T) {
	got := FilterMap([]string{"1", "x", "3"}, func(s string) (int, bool) {
		n, err := strconv.Atoi(s)
		return n, err == nil
	})
	if len(got) != 2 || got[1] != 3 {
		t.Fatalf("FilterMap wrong: %v", got)
	}
}

func TestFlatMap(t *testing.T) {
	got := FlatMap([]int{1, 2}, func(n int) []int { return []int{n, n * 10} })
	if len(got) != 4 || got[3] != 20 {
		t.Fatalf("FlatMap wrong: %v", got)
	}
}

// --- Retry ---

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var waits []time.Duration
	opts := RetryOpts{
		MaxAttempts: 3,
		BaseWait:    time.Second,
		Sleep:       func(_ context.Context, d time.Duration) error { waits = append(waits, d); return nil },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		if calls < 3 {
			return Errf[int]("attempt %d", calls)
		}
		return Ok(calls)
	})
	if v, _ := r.Unwrap(); v != 3 {
		t.Fatal("should succeed on third attempt")
	}
	if len(waits) != 2 {
		t.Fatalf("expected 2 waits, got %d", len(waits))
	}
	if waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Fatalf("unjittered backoff should double: %v", waits)
	}
}

func TestRetryGivesUpAtCeiling(t *testing.T) {
	calls := 0
	opts := RetryOpts{
		MaxAttempts: 3,
		BaseWait:    time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Errf[int]("always")
	})
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
	if r.IsOk() || r.Error().Error() != "always" {
		t.Fatal("ceiling should return last error")
	}
}

func TestRetryIfStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	opts := RetryOpts{
		MaxAttempts: 5,
		BaseWait:    time.Millisecond,
		RetryIf:     func(err error) bool { return !errors.Is(err, permanent) },
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if calls != 1 {
		t.Fatalf("permanent error should not be retried, got %d calls", calls)
	}
	if !errors.Is(r.Error(), permanent) {
		t.Fatal("should surface the permanent error")
	}
}

func TestRetryCancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := RetryOpts{
		MaxAttempts: 3,
		BaseWait:    time.Millisecond,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	r := Retry(ctx, opts, func(context.Context) Result[int] { return Errf[int]("flaky") })
	if !errors.Is(r.Error(), context.Canceled) {
		t.Fatalf("cancellation should win, got %v", r.Error())
	}
}

func TestBackoffWaitMonotone(t *testing.T) {
	opts := RetryOpts{BaseWait: 100 * time.Millisecond, MaxWait: time.Hour, Jitter: true}
	for trial := 0; trial < 50; trial++ {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 6; attempt++ {
			w := BackoffWait(opts, attempt)
			base := opts.BaseWait << (attempt - 1)
			if w < base || w > base+base/2 {
				t.Fatalf("attempt %d wait %v outside [base, base*1.5]", attempt, w)
			}
			// Additive jitter caps at base*1.5 while the next base doubles,
			// so waits never shrink between attempts.
			if w < prev {
				t.Fatalf("attempt %d wait %v shrank from %v", attempt, w, prev)
			}
			prev = w
		}
	}
}

func TestBackoffWaitCeiling(t *testing.T) {
	opts := RetryOpts{BaseWait: time.Second, MaxWait: 3 * time.Second}
	if w := BackoffWait(opts, 5); w != 3*time.Second {
		t.Fatalf("MaxWait should clamp, got %v", w)
	}
}

// --- Parallel ---

func TestParMapResultPreservesOrder(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := ParMapResult(in, 3, func(n int) Result[int] { return Ok(n * 10) })
	for i, r := range out {
		if v, _ := r.Unwrap(); v != in[i]*10 {
			t.Fatalf("order broken at %d: %v", i, v)
		}
	}
}

func TestParMapResultPartialFailure(t *testing.T) {
	out := ParMapResult([]int{1, 2, 3}, 2, func(n int) Result[int] {
		if n == 2 {
			return Errf[int]("bad %d", n)
		}
		return Ok(n)
	})
	if out[0].IsErr() || out[2].IsErr() {
		t.Fatal("siblings of a failed item must survive")
	}
	if out[1].IsOk() {
		t.Fatal("failed item should stay failed")
	}
}

func TestFanOut(t *testing.T) {
	got := FanOut(
		func() int { time.Sleep(5 * time.Millisecond); return 1 },
		func() int { return 2 },
	)
	if got[0] != 1 || got[1] != 2 {
		t.Fatalf("FanOut wrong: %v", got)
	}
}
