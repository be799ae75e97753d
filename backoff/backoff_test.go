package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/crank/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential_Doubles(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second, Max: time.Minute}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{500, time.Minute},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_UncappedDoesNotOverflow(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second}
	if got := e.Delay(1000); got <= 0 {
		t.Fatalf("Delay(1000) = %v, want positive", got)
	}
}

func TestExponential_JitterStaysInRange(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second, Max: 10 * time.Second, Jitter: 0.5}
	for range 200 {
		got := e.Delay(3) // base 4s
		if got < 2*time.Second || got > 4*time.Second {
			t.Fatalf("Delay(3) = %v, want within [2s, 4s]", got)
		}
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	for attempt := 1; attempt <= 20; attempt++ {
		if d := s.Delay(attempt); d < 0 || d > 30*time.Second {
			t.Fatalf("Delay(%d) = %v, outside [0, 30s]", attempt, d)
		}
	}
}

func TestFunc(t *testing.T) {
	s := backoff.Func(func(n int) time.Duration { return time.Duration(n) * time.Millisecond })
	if got := s.Delay(3); got != 3*time.Millisecond {
		t.Errorf("Delay(3) = %v", got)
	}
}

func TestSleep(t *testing.T) {
	done := make(chan struct{})
	if !backoff.Sleep(done, time.Millisecond) {
		t.Fatal("Sleep returned false with done open")
	}
	close(done)
	start := time.Now()
	if backoff.Sleep(done, time.Hour) {
		t.Fatal("Sleep returned true with done closed")
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sleep did not return early")
	}
	if backoff.Sleep(done, 0) {
		t.Fatal("zero Sleep returned true with done closed")
	}
}
