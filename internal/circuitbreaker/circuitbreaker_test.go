package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errProbe = errors.New("simulated failure")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(settings Settings) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	settings.Name = "test"
	settings.Now = clock.Now
	return New(settings), clock
}

func fail() error    { return errProbe }
func succeed() error { return nil }

func TestCircuitBreakerClosed(t *testing.T) {
	cb, _ := newTestBreaker(Settings{FailureThreshold: 3})

	if cb.State() != StateClosed {
		t.Errorf("Expected state CLOSED, got %s", cb.State())
	}

	for i := 0; i < 5; i++ {
		if err := cb.Execute(succeed); err != nil {
			t.Errorf("Successful request %d failed: %v", i+1, err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected state CLOSED after successful requests, got %s", cb.State())
	}
}

func TestCircuitBreakerOpen(t *testing.T) {
	cb, _ := newTestBreaker(Settings{FailureThreshold: 3, Timeout: time.Second})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errProbe) {
			t.Errorf("Request %d: expected probe error, got %v", i+1, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("Expected state OPEN after failures, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb, clock := newTestBreaker(Settings{FailureThreshold: 2, Timeout: time.Second})

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected OPEN, got %s", cb.State())
	}

	clock.Advance(1100 * time.Millisecond)

	if err := cb.Execute(succeed); err != nil {
		t.Errorf("First request after timeout should succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state CLOSED after successful half-open request, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Settings{FailureThreshold: 1, Timeout: time.Second})

	_ = cb.Execute(fail)
	clock.Advance(2 * time.Second)

	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected OPEN after failed trial, got %s", cb.State())
	}
	if err := cb.Execute(succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen right after reopening, got %v", err)
	}
}

func TestCircuitBreakerMaxRequests(t *testing.T) {
	cb, clock := newTestBreaker(Settings{
		FailureThreshold: 1,
		SuccessThreshold: 3,
		Timeout:          time.Second,
		MaxRequests:      2,
	})

	_ = cb.Execute(fail)
	clock.Advance(2 * time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(succeed); err != nil {
			t.Errorf("Request %d in half-open should be allowed, got %v", i+1, err)
		}
	}

	if err := cb.Execute(succeed); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("Expected ErrTooManyRequests, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected HALF-OPEN, got %s", cb.State())
	}
}

func TestCircuitBreakerIntervalResetsFailures(t *testing.T) {
	cb, clock := newTestBreaker(Settings{FailureThreshold: 2, Interval: time.Minute})

	_ = cb.Execute(fail)
	clock.Advance(2 * time.Minute)
	_ = cb.Execute(fail)

	if cb.State() != StateClosed {
		t.Errorf("Expected stale failure to be forgotten, got %s", cb.State())
	}
	if got := cb.Counts().Failures; got != 1 {
		t.Errorf("Expected 1 failure, got %d", got)
	}
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(Settings{
		FailureThreshold: 1,
		Timeout:          time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(fail)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(succeed)

	want := []string{"CLOSED->OPEN", "OPEN->HALF-OPEN", "HALF-OPEN->CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreakerPanicCountsAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(Settings{FailureThreshold: 1})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = cb.Execute(func() error { panic("boom") })
	}()

	if cb.State() != StateOpen {
		t.Errorf("Expected OPEN after panic, got %s", cb.State())
	}
}

func TestCircuitBreakerCountsClosedCalls(t *testing.T) {
	cb, _ := newTestBreaker(Settings{FailureThreshold: 5})

	_ = cb.Execute(succeed)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)

	got := cb.Counts()
	want := Counts{Failures: 1, Successes: 2, Requests: 3}
	if got != want {
		t.Errorf("Expected counts %+v, got %+v", want, got)
	}
}
