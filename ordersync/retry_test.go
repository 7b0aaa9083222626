package ordersync

import (
	"testing"
	"time"
)

func TestNextRetryStateBackoff(t *testing.T) {
	cases := []struct {
		attempt   int
		max       int
		base      int
		wantRetry bool
		wantDelay time.Duration
	}{
		{attempt: 0, max: 3, base: 2, wantRetry: true, wantDelay: 1 * time.Minute},
		{attempt: 1, max: 3, base: 2, wantRetry: true, wantDelay: 2 * time.Minute},
		{attempt: 2, max: 3, base: 2, wantRetry: true, wantDelay: 4 * time.Minute},
		{attempt: 3, max: 3, base: 2, wantRetry: false},
		{attempt: 5, max: 3, base: 2, wantRetry: false},
		{attempt: 1, max: 5, base: 3, wantRetry: true, wantDelay: 3 * time.Minute},
		{attempt: 2, max: 5, base: 3, wantRetry: true, wantDelay: 9 * time.Minute},
	}

	for _, tc := range cases {
		got := NextRetryState(tc.attempt, tc.max, tc.base)
		if got.Retry != tc.wantRetry {
			t.Fatalf("attempt=%d max=%d base=%d: retry=%v, want %v",
				tc.attempt, tc.max, tc.base, got.Retry, tc.wantRetry)
		}
		if tc.wantRetry && got.Delay != tc.wantDelay {
			t.Fatalf("attempt=%d max=%d base=%d: delay=%s, want %s",
				tc.attempt, tc.max, tc.base, got.Delay, tc.wantDelay)
		}
	}
}

func TestNextRetryStateClampsBase(t *testing.T) {
	got := NextRetryState(1, 3, 0)
	if !got.Retry {
		t.Fatalf("expected retry")
	}
	if got.Delay != 2*time.Minute {
		t.Fatalf("base below 2 should clamp to 2, got delay %s", got.Delay)
	}
}

func TestNextRetryStateDeterministic(t *testing.T) {
	first := NextRetryState(2, 5, 2)
	for i := 0; i < 10; i++ {
		if NextRetryState(2, 5, 2) != first {
			t.Fatalf("retry policy is not deterministic")
		}
	}
}
