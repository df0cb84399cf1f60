package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// metricsComputer is the compute-and-store entry point: it wraps the science
// formulas with idempotent per-user-per-day caching and monotonic versioning.
type metricsComputer struct {
	store metricsStore
	now   func() time.Time
}

func newMetricsComputer(store metricsStore, now func() time.Time) *metricsComputer {
	return &metricsComputer{store: store, now: now}
}

// sameUTCDay reports whether a and b fall on the same UTC calendar day.
// All "current for today" decisions use UTC as the reference timezone.
func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// currentForToday returns the record that is current for today: the
// highest-version record whose computed_at falls on today's UTC date.
// Versions only ever grow with time, so the latest record is the sole
// candidate. Returns (nil, nil) when nothing was computed today.
func (mc *metricsComputer) currentForToday(ctx context.Context, userID int) (*metricsRecord, error) {
	latest, err := mc.store.LatestMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest == nil || !sameUTCDay(latest.ComputedAt, mc.now()) {
		return nil, nil
	}
	return latest, nil
}

// computeAndStore computes and persists the user's daily targets.
//
// Fast path: a record already current for today is returned unchanged unless
// forceRecompute is set — no new computation, no new version. Otherwise a new
// record is inserted at lastVersion+1 with a sub-second computed_at.
//
// Two callers racing to compute the same version collide on the
// UNIQUE(user_id, version) constraint; the loser re-reads and returns the
// winner's record instead of erroring or duplicating. That conflict never
// surfaces to the caller.
func (mc *metricsComputer) computeAndStore(ctx context.Context, userID int, in scienceInputs, forceRecompute bool) (*metricsRecord, error) {
	if violations := validateScienceInputs(in); len(violations) > 0 {
		return nil, &validationError{Fields: violations}
	}

	latest, err := mc.store.LatestMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest != nil && sameUTCDay(latest.ComputedAt, mc.now()) && !forceRecompute {
		return latest, nil
	}

	version := 1
	if latest != nil {
		version = latest.Version + 1
	}
	now := mc.now()
	targets := computeTargets(in, now)

	rec := &metricsRecord{
		UserID:         userID,
		Version:        version,
		ComputedAt:     now,
		BMR:            targets.BMR,
		TDEE:           targets.TDEE,
		CalorieTarget:  targets.CalorieTarget,
		ProteinTargetG: targets.ProteinTargetG,
		WaterTargetML:  targets.WaterTargetML,
		WeeklyRateKG:   targets.WeeklyRateKG,
		EstimatedWeeks: targets.EstimatedWeeks,
		ProjectedDate:  targets.ProjectedDate,
	}

	stored, err := mc.store.InsertMetrics(ctx, rec)
	if errors.Is(err, errDuplicateKey) {
		// Lost the version race — the winner's row is the latest now.
		winner, lookupErr := mc.store.LatestMetrics(ctx, userID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if winner == nil {
			return nil, storageErr("metrics conflict recovery", errDuplicateKey)
		}
		return winner, nil
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

/* ─── Handlers ───────────────────────────────────────────────────────── */

// getTodayMetrics returns the targets current for today, with the
// acknowledgment flag the client needs before it may request a plan.
// GET /api/metrics/today. 404 when nothing has been computed today —
// deliberately distinct from any validation failure.
func (h *Handler) getTodayMetrics(c *gin.Context) {
	userID := c.GetInt("user_id")

	cur, err := h.metrics.currentForToday(c, userID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if cur == nil {
		apiError(c, http.StatusNotFound, "no metrics computed for today")
		return
	}

	acked, err := h.acks.acknowledgedFor(c, cur)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, todayMetricsResponse{
		BMR:            cur.BMR,
		TDEE:           cur.TDEE,
		CalorieTarget:  cur.CalorieTarget,
		ProteinTargetG: cur.ProteinTargetG,
		WaterTargetML:  cur.WaterTargetML,
		WeeklyRateKG:   cur.WeeklyRateKG,
		EstimatedWeeks: cur.EstimatedWeeks,
		ProjectedDate:  cur.ProjectedDate,
		Version:        cur.Version,
		ComputedAt:     cur.ComputedAt.UTC().Format(time.RFC3339Nano),
		Acknowledged:   acked,
	})
}

// computeMetrics runs compute-and-store against the stored science profile.
// POST /api/metrics/compute. Body: { "force_recompute": bool }.
func (h *Handler) computeMetrics(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body computeMetricsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	profile, err := h.store.ProfileFor(c, userID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if profile == nil {
		apiError(c, http.StatusNotFound, "profile not found")
		return
	}

	in, missing := profile.inputs()
	if len(missing) > 0 {
		writeEngineError(c, &validationError{Fields: missing})
		return
	}

	rec, err := h.metrics.computeAndStore(c, userID, in, body.ForceRecompute)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}
