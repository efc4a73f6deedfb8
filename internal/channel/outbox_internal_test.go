package channel

import (
	"testing"
	"time"
)

func TestComputeBackoff(t *testing.T) {
	t.Parallel()

	base := 2 * time.Second
	max := 300 * time.Second

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 4 * time.Second}, // treated as 1
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{7, 256 * time.Second},
		{8, max},
		{50, max},
	}
	for _, tc := range cases {
		if got := computeBackoff(tc.retryCount, base, max); got != tc.want {
			t.Fatalf("computeBackoff(%d) = %v, want %v", tc.retryCount, got, tc.want)
		}
	}
}

func TestComputeBackoffMonotone(t *testing.T) {
	t.Parallel()

	base := time.Second
	max := 10 * time.Minute
	prev := time.Duration(0)
	for i := 1; i < 20; i++ {
		got := computeBackoff(i, base, max)
		if got < prev {
			t.Fatalf("backoff decreased at %d: %v < %v", i, got, prev)
		}
		if got > max {
			t.Fatalf("backoff exceeded cap at %d: %v", i, got)
		}
		prev = got
	}
}
