package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestGate() (*acknowledgmentGate, *metricsComputer, *memStore, *testClock) {
	store := newMemStore()
	clock := newTestClock()
	store.nowFn = clock.now
	return newAcknowledgmentGate(store, clock.now), newMetricsComputer(store, clock.now), store, clock
}

// computeOne stores one metrics record and returns it. The test clock's
// 700ms fraction means the stored computed_at never sits on a whole second.
func computeOne(t *testing.T, mc *metricsComputer, userID int) *metricsRecord {
	t.Helper()
	rec, err := mc.computeAndStore(context.Background(), userID, validInputs(), false)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	return rec
}

// TestAcknowledge_SubSecondTolerance: a client timestamp whose fraction
// differs from the stored one — including the common case of a serializer
// that dropped the fraction entirely — still matches, because both sides
// are floored to the same whole second.
func TestAcknowledge_SubSecondTolerance(t *testing.T) {
	gate, mc, _, _ := newTestGate()
	rec := computeOne(t, mc, 1) // stored fraction is .700 — rounding would bump it a second

	cases := []struct {
		name string
		ts   time.Time
	}{
		{"fraction dropped by serializer", rec.ComputedAt.Truncate(time.Second)},
		{"different fraction", rec.ComputedAt.Truncate(time.Second).Add(123 * time.Millisecond)},
		{"exact stored timestamp", rec.ComputedAt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack, err := gate.acknowledge(context.Background(), 1, rec.Version, tc.ts)
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if ack.Version != rec.Version {
				t.Errorf("ack version = %d, want %d", ack.Version, rec.Version)
			}
		})
	}
}

// TestAcknowledge_FullSecondMismatch: a timestamp in a different whole second
// refers to a different computation and must fail with notFoundError.
func TestAcknowledge_FullSecondMismatch(t *testing.T) {
	gate, mc, _, _ := newTestGate()
	rec := computeOne(t, mc, 1)

	cases := []struct {
		name string
		ts   time.Time
	}{
		{"one second later", rec.ComputedAt.Add(time.Second)},
		{"one second earlier", rec.ComputedAt.Add(-time.Second)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := gate.acknowledge(context.Background(), 1, rec.Version, tc.ts)
			var nf *notFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("expected notFoundError, got %v", err)
			}
		})
	}
}

// TestAcknowledge_WrongVersion fails with notFoundError — never a
// validationError, so clients know a refetch-and-retry can succeed.
func TestAcknowledge_WrongVersion(t *testing.T) {
	gate, mc, _, _ := newTestGate()
	rec := computeOne(t, mc, 1)

	_, err := gate.acknowledge(context.Background(), 1, rec.Version+1, rec.ComputedAt)
	var nf *notFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected notFoundError, got %v", err)
	}
	var ve *validationError
	if errors.As(err, &ve) {
		t.Fatal("notFoundError must not double as validationError")
	}
}

// TestAcknowledge_Idempotent: acknowledging the same key twice succeeds both
// times and stores exactly one row.
func TestAcknowledge_Idempotent(t *testing.T) {
	gate, mc, store, _ := newTestGate()
	rec := computeOne(t, mc, 1)

	first, err := gate.acknowledge(context.Background(), 1, rec.Version, rec.ComputedAt)
	if err != nil {
		t.Fatalf("first acknowledge failed: %v", err)
	}
	second, err := gate.acknowledge(context.Background(), 1, rec.Version, rec.ComputedAt)
	if err != nil {
		t.Fatalf("repeat acknowledge failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("repeat returned a different row: %d vs %d", second.ID, first.ID)
	}
	if len(store.acks) != 1 {
		t.Errorf("expected exactly 1 acknowledgment row, got %d", len(store.acks))
	}
}

// TestAcknowledge_ConcurrentDuplicate: a constraint hit from a simultaneous
// acknowledge is the idempotent success path, not an error.
func TestAcknowledge_ConcurrentDuplicate(t *testing.T) {
	gate, mc, store, clock := newTestGate()
	rec := computeOne(t, mc, 1)
	ctx := context.Background()

	store.beforeInsertAck = func() {
		store.InsertAcknowledgment(ctx, &acknowledgmentRecord{
			UserID:            1,
			Version:           rec.Version,
			MetricsComputedAt: rec.ComputedAt.UTC().Truncate(time.Second),
			AcknowledgedAt:    clock.now(),
		})
	}

	ack, err := gate.acknowledge(ctx, 1, rec.Version, rec.ComputedAt)
	if err != nil {
		t.Fatalf("expected idempotent success, got %v", err)
	}
	if ack == nil || len(store.acks) != 1 {
		t.Errorf("expected the winner's single row, got %d rows", len(store.acks))
	}
}

// TestIsAcknowledged_InvalidatedByNewVersion: regenerating metrics bumps the
// version, so the old acknowledgment stops counting even though its row
// still exists.
func TestIsAcknowledged_InvalidatedByNewVersion(t *testing.T) {
	gate, mc, store, clock := newTestGate()
	ctx := context.Background()
	rec := computeOne(t, mc, 1)

	if _, err := gate.acknowledge(ctx, 1, rec.Version, rec.ComputedAt); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	acked, err := gate.isAcknowledged(ctx, 1)
	if err != nil || !acked {
		t.Fatalf("expected acknowledged before regeneration, got %v / %v", acked, err)
	}

	clock.advance(time.Minute)
	if _, err := mc.computeAndStore(ctx, 1, validInputs(), true); err != nil {
		t.Fatalf("forced recompute failed: %v", err)
	}

	acked, err = gate.isAcknowledged(ctx, 1)
	if err != nil {
		t.Fatalf("isAcknowledged failed: %v", err)
	}
	if acked {
		t.Error("stale acknowledgment still authorizes the new version")
	}
	if len(store.acks) != 1 {
		t.Errorf("the old acknowledgment row should survive, got %d rows", len(store.acks))
	}
}

// TestIsAcknowledged_NoMetrics: nothing computed today means nothing can be
// acknowledged.
func TestIsAcknowledged_NoMetrics(t *testing.T) {
	gate, _, _, _ := newTestGate()

	acked, err := gate.isAcknowledged(context.Background(), 1)
	if err != nil {
		t.Fatalf("isAcknowledged failed: %v", err)
	}
	if acked {
		t.Error("expected false with no metrics")
	}
}
