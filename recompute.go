package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Significance thresholds: a recomputed target is only worth reporting when
// it moved more than daily noise. Smaller drifts are persisted but stay out
// of the report.
const (
	calorieChangeThreshold = 50
	proteinChangeThreshold = 10
)

// recomputeWorkers bounds the batch job's parallelism — each worker holds at
// most one DB connection, so this must stay below the pool size.
const recomputeWorkers = 4

// userRecomputeUpdate is one materially significant change found by the
// weekly sweep.
type userRecomputeUpdate struct {
	UserID      int     `json:"user_id"`
	OldCalories int     `json:"old_calories"`
	NewCalories int     `json:"new_calories"`
	OldProteinG float64 `json:"old_protein_g"`
	NewProteinG float64 `json:"new_protein_g"`
	Reason      string  `json:"reason"`
}

// recomputeReport is the outcome of one batch invocation, consumed by the
// notification/audit side.
type recomputeReport struct {
	RunID        string                `json:"run_id"`
	TotalUsers   int                   `json:"total_users"`
	SuccessCount int                   `json:"success_count"`
	ErrorCount   int                   `json:"error_count"`
	Updates      []userRecomputeUpdate `json:"updates"`
}

// weeklyRecompute sweeps every onboarded user, forces a fresh target
// computation from their latest stored inputs, and reports the users whose
// targets moved past the significance thresholds.
type weeklyRecompute struct {
	store   metricsStore
	metrics *metricsComputer
}

func newWeeklyRecompute(store metricsStore, metrics *metricsComputer) *weeklyRecompute {
	return &weeklyRecompute{store: store, metrics: metrics}
}

// run executes one sweep. Users are fully independent, so they are processed
// with bounded parallelism; a failure for one user is logged and counted but
// never aborts the rest of the population.
func (w *weeklyRecompute) run(ctx context.Context) (*recomputeReport, error) {
	profiles, err := w.store.OnboardedProfiles(ctx)
	if err != nil {
		return nil, err
	}

	report := &recomputeReport{
		RunID:      uuid.New().String(),
		TotalUsers: len(profiles),
	}
	log.Printf("[recompute] run %s starting: %d users", report.RunID, report.TotalUsers)

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(recomputeWorkers)

	for _, profile := range profiles {
		profile := profile
		g.Go(func() error {
			update, err := w.recomputeUser(ctx, profile)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.ErrorCount++
				log.Printf("[recompute] user %d failed: %v", profile.UserID, err)
				return nil // isolation: one user's failure never stops the sweep
			}
			report.SuccessCount++
			if update != nil {
				report.Updates = append(report.Updates, *update)
			}
			return nil
		})
	}
	g.Wait()

	log.Printf("[recompute] run %s done: %d ok, %d failed, %d significant",
		report.RunID, report.SuccessCount, report.ErrorCount, len(report.Updates))
	return report, nil
}

// recomputeUser forces a fresh computation for one user and compares it to
// the immediately prior record. Returns a non-nil update only when the change
// crosses a significance threshold; nil for first-ever computations (there is
// no baseline to diff against).
func (w *weeklyRecompute) recomputeUser(ctx context.Context, profile scienceProfile) (*userRecomputeUpdate, error) {
	in, missing := profile.inputs()
	if len(missing) > 0 {
		return nil, &validationError{Fields: missing}
	}

	prev, err := w.store.LatestMetrics(ctx, profile.UserID)
	if err != nil {
		return nil, err
	}

	rec, err := w.metrics.computeAndStore(ctx, profile.UserID, in, true)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}

	reason := changeReason(prev.targets(), rec.targets())
	if reason == "" {
		return nil, nil
	}
	return &userRecomputeUpdate{
		UserID:      profile.UserID,
		OldCalories: prev.CalorieTarget,
		NewCalories: rec.CalorieTarget,
		OldProteinG: prev.ProteinTargetG,
		NewProteinG: rec.ProteinTargetG,
		Reason:      reason,
	}, nil
}

// changeReason summarizes which metrics crossed their threshold and by how
// much. Empty string means the change is not significant.
func changeReason(old, new computedTargets) string {
	var parts []string

	dCal := new.CalorieTarget - old.CalorieTarget
	if math.Abs(float64(dCal)) > calorieChangeThreshold {
		parts = append(parts, fmt.Sprintf("calorie target changed by %+d (%d → %d)",
			dCal, old.CalorieTarget, new.CalorieTarget))
	}

	dProt := new.ProteinTargetG - old.ProteinTargetG
	if math.Abs(dProt) > proteinChangeThreshold {
		parts = append(parts, fmt.Sprintf("protein target changed by %+.1fg (%.1fg → %.1fg)",
			dProt, old.ProteinTargetG, new.ProteinTargetG))
	}

	return strings.Join(parts, "; ")
}

// runWeeklyRecompute is the entry point behind the main binary's -recompute flag.
func runWeeklyRecompute(ctx context.Context, store metricsStore, now func() time.Time) (*recomputeReport, error) {
	return newWeeklyRecompute(store, newMetricsComputer(store, now)).run(ctx)
}
