package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestPlanner() (*planGenerator, *acknowledgmentGate, *metricsComputer, *memStore, *testClock) {
	store := newMemStore()
	clock := newTestClock()
	store.nowFn = clock.now
	acks := newAcknowledgmentGate(store, clock.now)
	return newPlanGenerator(store, acks, clock.now), acks, newMetricsComputer(store, clock.now), store, clock
}

// ackCurrent acknowledges the record current for today.
func ackCurrent(t *testing.T, gate *acknowledgmentGate, mc *metricsComputer, userID int) {
	t.Helper()
	cur, err := mc.currentForToday(context.Background(), userID)
	if err != nil || cur == nil {
		t.Fatalf("no current metrics to acknowledge: %v", err)
	}
	if _, err := gate.acknowledge(context.Background(), userID, cur.Version, cur.ComputedAt); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
}

// TestGenerate_NoMetrics: generation without any metrics for today fails the
// precondition.
func TestGenerate_NoMetrics(t *testing.T) {
	planner, _, _, _, _ := newTestPlanner()

	_, err := planner.generate(context.Background(), 1, false)
	var pf *preconditionFailedError
	if !errors.As(err, &pf) {
		t.Fatalf("expected preconditionFailedError, got %v", err)
	}
}

// TestGenerate_Unacknowledged: metrics exist but the user hasn't confirmed
// them — still a precondition failure.
func TestGenerate_Unacknowledged(t *testing.T) {
	planner, _, mc, _, _ := newTestPlanner()
	computeOne(t, mc, 1)

	_, err := planner.generate(context.Background(), 1, false)
	var pf *preconditionFailedError
	if !errors.As(err, &pf) {
		t.Fatalf("expected preconditionFailedError, got %v", err)
	}
}

// TestGenerate_SucceedsAfterAck: a first generation after acknowledgment
// creates the weekly snapshot from the current targets.
func TestGenerate_SucceedsAfterAck(t *testing.T) {
	planner, gate, mc, _, clock := newTestPlanner()
	rec := computeOne(t, mc, 1)
	ackCurrent(t, gate, mc, 1)

	snap, err := planner.generate(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !snap.Recomputed {
		t.Error("first generation should report recomputed=true")
	}
	if snap.PreviousTargets != nil {
		t.Error("first generation has no previous targets")
	}
	if snap.CalorieTarget != rec.CalorieTarget || snap.MetricsVersion != rec.Version {
		t.Errorf("snapshot targets/version don't match the metrics record")
	}

	wantStart := currentMonday(clock.now())
	if !snap.WeekStart.Time.Equal(wantStart) {
		t.Errorf("weekStart = %v, want %v", snap.WeekStart.Time, wantStart)
	}
	if !snap.WeekEnd.Time.Equal(wantStart.AddDate(0, 0, 6)) {
		t.Errorf("weekEnd = %v, want %v", snap.WeekEnd.Time, wantStart.AddDate(0, 0, 6))
	}
}

// TestGenerate_CacheHit: a fresh snapshot for the same version is returned
// unchanged with recomputed=false.
func TestGenerate_CacheHit(t *testing.T) {
	planner, gate, mc, store, clock := newTestPlanner()
	computeOne(t, mc, 1)
	ackCurrent(t, gate, mc, 1)

	first, err := planner.generate(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("first generate failed: %v", err)
	}

	clock.advance(2 * time.Hour)
	second, err := planner.generate(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("second generate failed: %v", err)
	}

	if second.Recomputed {
		t.Error("cache hit should report recomputed=false")
	}
	if second.ID != first.ID {
		t.Errorf("cache hit returned a different snapshot: %d vs %d", second.ID, first.ID)
	}
	if len(store.plans) != 1 {
		t.Errorf("expected 1 stored snapshot, got %d", len(store.plans))
	}
}

// TestGenerate_ForceRefresh: force_recompute rebuilds the snapshot and keeps
// the replaced targets for diffing.
func TestGenerate_ForceRefresh(t *testing.T) {
	planner, gate, mc, store, _ := newTestPlanner()
	rec := computeOne(t, mc, 1)
	ackCurrent(t, gate, mc, 1)

	if _, err := planner.generate(context.Background(), 1, false); err != nil {
		t.Fatalf("first generate failed: %v", err)
	}
	snap, err := planner.generate(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("forced generate failed: %v", err)
	}

	if !snap.Recomputed {
		t.Error("forced refresh should report recomputed=true")
	}
	if snap.PreviousTargets == nil {
		t.Fatal("forced refresh should carry previous targets")
	}
	if snap.PreviousTargets.CalorieTarget != rec.CalorieTarget {
		t.Errorf("previous calorie target = %d, want %d",
			snap.PreviousTargets.CalorieTarget, rec.CalorieTarget)
	}
	if len(store.plans) != 1 {
		t.Errorf("refresh must replace the row, not add one: got %d", len(store.plans))
	}
}

// TestGenerate_NewVersionDemotes: regenerated metrics invalidate both the
// acknowledgment and the existing plan — generation fails until the new
// version is acknowledged, then rebuilds with the old targets attached.
func TestGenerate_NewVersionDemotes(t *testing.T) {
	planner, gate, mc, _, clock := newTestPlanner()
	ctx := context.Background()
	computeOne(t, mc, 1)
	ackCurrent(t, gate, mc, 1)

	first, err := planner.generate(ctx, 1, false)
	if err != nil {
		t.Fatalf("first generate failed: %v", err)
	}

	clock.advance(time.Minute)
	if _, err := mc.computeAndStore(ctx, 1, validInputs(), true); err != nil {
		t.Fatalf("forced recompute failed: %v", err)
	}

	_, err = planner.generate(ctx, 1, false)
	var pf *preconditionFailedError
	if !errors.As(err, &pf) {
		t.Fatalf("stale acknowledgment must not authorize a plan: got %v", err)
	}

	ackCurrent(t, gate, mc, 1)
	snap, err := planner.generate(ctx, 1, false)
	if err != nil {
		t.Fatalf("generate after re-ack failed: %v", err)
	}
	if !snap.Recomputed {
		t.Error("rebuild against a new version should report recomputed=true")
	}
	if snap.PreviousTargets == nil {
		t.Error("rebuild should carry the replaced targets")
	}
	if snap.MetricsVersion != first.MetricsVersion+1 {
		t.Errorf("snapshot version = %d, want %d", snap.MetricsVersion, first.MetricsVersion+1)
	}
}
