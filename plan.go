package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// planFreshness is how long a weekly snapshot stays a cache hit before a
// generate call refreshes it even without force_recompute.
const planFreshness = 7 * 24 * time.Hour

// planGenerator gates weekly plan creation behind an acknowledgment of the
// current metrics version. The user's state is derived fresh on every call:
//
//	NoMetrics → MetricsUnacknowledged → MetricsAcknowledged → PlanCurrent
//
// A new metrics version demotes the state back to MetricsUnacknowledged no
// matter what was acknowledged or planned before — a stale acknowledgment
// must never authorize generation against newer targets.
type planGenerator struct {
	store metricsStore
	acks  *acknowledgmentGate
	now   func() time.Time
}

func newPlanGenerator(store metricsStore, acks *acknowledgmentGate, now func() time.Time) *planGenerator {
	return &planGenerator{store: store, acks: acks, now: now}
}

// generate returns the weekly plan snapshot for the current Mon–Sun week,
// creating or refreshing it from the current targets.
//
// Fails with preconditionFailedError unless metrics exist for today and the
// user has acknowledged exactly that version. An existing snapshot for this
// week is returned unchanged (recomputed=false) when it was generated against
// the current version, is under a week old, and force is not set. Any other
// path rebuilds the snapshot with recomputed=true and the replaced targets in
// previousTargets for caller-side diffing.
func (p *planGenerator) generate(ctx context.Context, userID int, forceRecompute bool) (*planSnapshot, error) {
	computer := metricsComputer{store: p.store, now: p.now}
	cur, err := computer.currentForToday(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, &preconditionFailedError{Msg: "no metrics computed for today"}
	}

	acked, err := p.acks.acknowledgedFor(ctx, cur)
	if err != nil {
		return nil, err
	}
	if !acked {
		return nil, &preconditionFailedError{Msg: "current metrics have not been acknowledged"}
	}

	now := p.now()
	weekStart := currentMonday(now)
	weekEnd := weekStart.AddDate(0, 0, 6)

	existing, err := p.store.PlanForWeek(ctx, userID, weekStart)
	if err != nil {
		return nil, err
	}
	if existing != nil && !forceRecompute &&
		existing.MetricsVersion == cur.Version &&
		existing.CreatedAt != nil && now.Sub(*existing.CreatedAt) < planFreshness {
		existing.Recomputed = false
		return existing, nil
	}

	targets := cur.targets()
	snap := &planSnapshot{
		UserID:         userID,
		WeekStart:      DateOnly{weekStart},
		WeekEnd:        DateOnly{weekEnd},
		MetricsVersion: cur.Version,
		BMR:            targets.BMR,
		TDEE:           targets.TDEE,
		CalorieTarget:  targets.CalorieTarget,
		ProteinTargetG: targets.ProteinTargetG,
		WaterTargetML:  targets.WaterTargetML,
		WeeklyRateKG:   targets.WeeklyRateKG,
		Recomputed:     true,
	}
	if existing != nil {
		prev := existing.targets()
		snap.PreviousTargets = &prev
	}

	return p.store.UpsertPlan(ctx, snap)
}

/* ─── Handler ────────────────────────────────────────────────────────── */

// generatePlan handles POST /api/plan/generate.
// Body: { "force_recompute": bool }. 412 until the current metrics version
// has been acknowledged.
func (h *Handler) generatePlan(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body generatePlanRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.plans.generate(c, userID, body.ForceRecompute)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}
