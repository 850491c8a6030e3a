package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leadflow/leadflow/internal/lead"
)

func fastOpts() Options {
	return Options{
		Workers:           2,
		MaxRetries:        2,
		RequestTimeout:    time.Second,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BackoffJitterFrac: 0.01,
	}
}

func TestProcessAllRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	proc := func(_ context.Context, in int) (int, error) {
		if calls.Add(1) < 3 {
			return 0, &lead.TransientError{Err: errors.New("flaky upstream")}
		}
		return in * 2, nil
	}

	results, err := ProcessAll(context.Background(), []int{21}, proc, fastOpts())
	if err != nil {
		t.Fatalf("ProcessAll returned error: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("item error: %v", results[0].Err)
	}
	if results[0].Output != 42 {
		t.Fatalf("output = %d, want 42", results[0].Output)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("processor called %d times, want 3", got)
	}
}

func TestProcessAllDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	permanent := errors.New("bad input")
	proc := func(_ context.Context, in int) (int, error) {
		calls.Add(1)
		return 0, permanent
	}

	results, err := ProcessAll(context.Background(), []int{1}, proc, fastOpts())
	if err != nil {
		t.Fatalf("ProcessAll returned error: %v", err)
	}
	if !errors.Is(results[0].Err, permanent) {
		t.Fatalf("item error = %v, want %v", results[0].Err, permanent)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("processor called %d times, want 1", got)
	}
}

func TestProcessAllPreservesSubmissionOrder(t *testing.T) {
	t.Parallel()

	items := make([]int, 24)
	for i := range items {
		items[i] = i
	}
	proc := func(_ context.Context, in int) (int, error) {
		// Later items finish first so completion order differs from
		// submission order.
		time.Sleep(time.Duration(len(items)-in) * time.Millisecond)
		return in, nil
	}

	opts := fastOpts()
	opts.Workers = 6
	results, err := ProcessAll(context.Background(), items, proc, opts)
	if err != nil {
		t.Fatalf("ProcessAll returned error: %v", err)
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("item %d error: %v", i, res.Err)
		}
		if res.Output != i {
			t.Fatalf("results[%d].Output = %d, want %d", i, res.Output, i)
		}
	}
}

func TestProcessAllPartialOutputKeepsPerItemErrors(t *testing.T) {
	t.Parallel()

	proc := func(_ context.Context, in int) (int, error) {
		if in%2 == 1 {
			return 0, errors.New("odd item rejected")
		}
		return in, nil
	}

	opts := fastOpts()
	opts.FailurePolicy = FailurePolicyPartialOutput
	results, err := ProcessAll(context.Background(), []int{0, 1, 2, 3}, proc, opts)
	if err != nil {
		t.Fatalf("ProcessAll returned error: %v", err)
	}
	for i, res := range results {
		wantErr := i%2 == 1
		if (res.Err != nil) != wantErr {
			t.Fatalf("results[%d].Err = %v, want error=%v", i, res.Err, wantErr)
		}
	}
}

func TestProcessAllFailFastSurfacesFirstError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	proc := func(_ context.Context, in int) (int, error) {
		if in == 2 {
			return 0, boom
		}
		return in, nil
	}

	opts := fastOpts()
	opts.Workers = 1
	opts.FailurePolicy = FailurePolicyFailFast
	_, err := ProcessAll(context.Background(), []int{0, 1, 2, 3, 4}, proc, opts)
	if !errors.Is(err, boom) {
		t.Fatalf("ProcessAll error = %v, want %v", err, boom)
	}
}

func TestProcessAllHonorsRetryAfterHint(t *testing.T) {
	t.Parallel()

	const hint = 60 * time.Millisecond

	var calls atomic.Int32
	proc := func(_ context.Context, in int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, &lead.RateLimitedError{Err: errors.New("slow down"), RetryAfter: hint}
		}
		return in, nil
	}

	start := time.Now()
	results, err := ProcessAll(context.Background(), []int{7}, proc, fastOpts())
	if err != nil {
		t.Fatalf("ProcessAll returned error: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("item error: %v", results[0].Err)
	}
	if elapsed := time.Since(start); elapsed < hint {
		t.Fatalf("retried after %v, want at least the %v hint", elapsed, hint)
	}
}

func TestProcessAllReturnsContextError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := func(_ context.Context, in int) (int, error) { return in, nil }
	_, err := ProcessAll(ctx, []int{1, 2, 3}, proc, fastOpts())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessAll error = %v, want context.Canceled", err)
	}
}
