package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func TestEventualSuccess(t *testing.T) {
	var (
		rec   recorder
		calls int
		p     = Policy{MaxAttempts: 3, Delay: 2 * time.Second, Sleep: rec.sleep}
	)
	got, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("transient failure %d", calls)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
	if diff := cmp.Diff([]time.Duration{2 * time.Second, 2 * time.Second}, rec.sleeps); diff != "" {
		t.Errorf("delays mismatch (-want +got):\n%s", diff)
	}
}

func TestExhausted(t *testing.T) {
	var (
		rec   recorder
		calls int
		errs  []error
		p     = Policy{MaxAttempts: 3, Delay: 3 * time.Second, Sleep: rec.sleep}
	)
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		e := fmt.Errorf("failure %d", calls)
		errs = append(errs, e)
		return 0, e
	})
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
	var exh *ExhaustedError
	if !errors.As(err, &exh) {
		t.Fatalf("got error %v, want ExhaustedError", err)
	}
	if exh.Attempts != 3 {
		t.Errorf("got %d attempts, want 3", exh.Attempts)
	}
	if exh.Err != errs[2] {
		t.Errorf("got cause %v, want the third failure", exh.Err)
	}
	if !errors.Is(err, errs[2]) {
		t.Error("errors.Is does not see the last failure")
	}
	if len(rec.sleeps) != 2 {
		t.Errorf("got %d delays, want 2", len(rec.sleeps))
	}
}

func TestZeroPolicy(t *testing.T) {
	var calls int
	boom := errors.New("boom")
	err := Run(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return boom
	})
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestNotRetryable(t *testing.T) {
	var (
		rec   recorder
		calls int
		fatal = errors.New("unauthorized")
		p     = Policy{
			MaxAttempts: 5,
			Delay:       time.Second,
			Sleep:       rec.sleep,
			Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
		}
	)
	err := Run(context.Background(), p, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return fatal
	})
	if err != fatal {
		t.Errorf("got %v, want the unwrapped fatal error", err)
	}
	if calls != 2 {
		t.Errorf("got %d calls, want 2", calls)
	}
	if len(rec.sleeps) != 1 {
		t.Errorf("got %d delays, want 1", len(rec.sleeps))
	}
}

func TestCanceledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	p := Policy{MaxAttempts: 3, Delay: time.Hour}
	err := Run(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestRealDelay(t *testing.T) {
	var calls int
	p := Policy{MaxAttempts: 2, Delay: 20 * time.Millisecond}
	start := time.Now()
	err := Run(context.Background(), p, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < p.Delay {
		t.Errorf("elapsed %s, want at least %s", elapsed, p.Delay)
	}
}
