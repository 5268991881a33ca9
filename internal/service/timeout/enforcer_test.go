package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

func TestExecute_CompletesBeforeDeadline(t *testing.T) {
	e := New(time.Second, true)
	err := e.Execute(context.Background(), &domain.Job{ID: "j1"}, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecute_TimesOutWithClassifiedError(t *testing.T) {
	e := New(30*time.Millisecond, true)
	start := time.Now()
	err := e.Execute(context.Background(), &domain.Job{ID: "j1"}, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second)
		return ctx.Err()
	})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var cerr *domain.ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("error not classified: %v", err)
	}
	if cerr.Kind != domain.KindTimeout || !cerr.Retryable {
		t.Fatalf("kind=%s retryable=%v, want timeout retryable", cerr.Kind, cerr.Retryable)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("returned before the deadline: %v", elapsed)
	}
}

func TestExecute_GracePrefersLateSuccess(t *testing.T) {
	e := New(20*time.Millisecond, true)
	err := e.Execute(context.Background(), &domain.Job{ID: "j1"}, func(ctx context.Context) error {
		// Finishes just past the deadline but inside the grace window.
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("late success should win within grace: %v", err)
	}
}

func TestExecute_PerJobOverride(t *testing.T) {
	e := New(time.Second, true)
	start := time.Now()
	err := e.Execute(context.Background(), &domain.Job{ID: "j1", TimeoutMS: 30}, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second)
		return ctx.Err()
	})
	if err == nil {
		t.Fatalf("expected timeout from per-job override")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("per-job override not applied")
	}
}

func TestExecute_OverrideDisabledOrInvalid(t *testing.T) {
	e := New(100*time.Millisecond, false)
	if got := e.deadlineFor(&domain.Job{TimeoutMS: 1}); got != 100*time.Millisecond {
		t.Fatalf("override applied while disabled: %v", got)
	}

	e = New(100*time.Millisecond, true)
	if got := e.deadlineFor(&domain.Job{TimeoutMS: -5}); got != 100*time.Millisecond {
		t.Fatalf("negative override should fall back: %v", got)
	}
	if got := e.deadlineFor(nil); got != 100*time.Millisecond {
		t.Fatalf("nil job should fall back: %v", got)
	}
}

func TestExecute_OuterCancellationPropagates(t *testing.T) {
	e := New(time.Second, true)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := e.Execute(ctx, &domain.Job{ID: "j1"}, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(200 * time.Millisecond)
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("outer cancel should surface context.Canceled, got %v", err)
	}
}
