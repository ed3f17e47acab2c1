package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/trip-reservations/internal/events"
)

type fakeApplier struct {
	failures int
	calls    int
	applied  []events.ReservationEvent
}

func (f *fakeApplier) Apply(ctx context.Context, ev events.ReservationEvent) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("redis unavailable")
	}
	f.applied = append(f.applied, ev)
	return nil
}

func TestApplyWithRetrySucceedsFirstTry(t *testing.T) {
	f := &fakeApplier{}
	ev := events.ReservationEvent{Type: events.TypeRequested, TripID: "t1"}

	if err := applyWithRetry(context.Background(), f, ev, 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("calls=%d, want 1", f.calls)
	}
}

func TestApplyWithRetryRecoversAfterFailures(t *testing.T) {
	f := &fakeApplier{failures: 2}
	ev := events.ReservationEvent{Type: events.TypeAccepted, TripID: "t1"}

	if err := applyWithRetry(context.Background(), f, ev, 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("calls=%d, want 3", f.calls)
	}
	if len(f.applied) != 1 || f.applied[0].TripID != "t1" {
		t.Fatalf("unexpected applied events %+v", f.applied)
	}
}

func TestApplyWithRetryGivesUp(t *testing.T) {
	f := &fakeApplier{failures: 10}
	ev := events.ReservationEvent{Type: events.TypeCancelled, TripID: "t1"}

	err := applyWithRetry(context.Background(), f, ev, 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if f.calls != 3 {
		t.Fatalf("calls=%d, want 3", f.calls)
	}
	if len(f.applied) != 0 {
		t.Fatalf("nothing should have been applied, got %+v", f.applied)
	}
}

func TestApplyWithRetryBacksOffBetweenAttempts(t *testing.T) {
	f := &fakeApplier{failures: 2}
	ev := events.ReservationEvent{Type: events.TypeRequested, TripID: "t1"}

	start := time.Now()
	if err := applyWithRetry(context.Background(), f, ev, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// two sleeps: 10ms then 20ms
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("retries finished too fast: %v", elapsed)
	}
}
