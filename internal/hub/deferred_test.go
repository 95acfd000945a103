package hub

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPromise_SettlesOnce(t *testing.T) {
	p := NewPromise()

	if !p.Resolve(1) {
		t.Fatal("first settle must win")
	}
	if p.Reject(errors.New("late")) || p.Resolve(2) {
		t.Error("later settles must be ignored")
	}

	v, err := p.Await(context.Background())
	if err != nil || v != 1 {
		t.Errorf("expected 1, got %v (%v)", v, err)
	}
}

func TestPromise_AwaitHonoursContext(t *testing.T) {
	p := NewPromise()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := p.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if p.IsCompleted() {
		t.Error("promise must stay pending")
	}
}

func TestAsync_RecoversPanic(t *testing.T) {
	p := Async(func() (any, error) { panic("oops") })

	_, err := p.Await(context.Background())
	if err == nil || !strings.Contains(err.Error(), "oops") {
		t.Errorf("expected panic error, got %v", err)
	}
}

func TestIsCompleted(t *testing.T) {
	if !isCompleted(Completed(nil)) || !isCompleted(Failed(errors.New("x"))) {
		t.Error("settled promises must report completed")
	}
	if isCompleted(NewPromise()) {
		t.Error("pending promise reported completed")
	}
	if isCompleted(customDeferred{}) {
		t.Error("foreign Deferreds are awaited off the receive loop")
	}
}

type customDeferred struct{}

func (customDeferred) Await(context.Context) (any, error) { return nil, nil }
