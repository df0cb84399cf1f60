package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// acknowledgmentGate records and validates user acknowledgment of a specific
// (version, computedAt) pair. Plans may only be generated against metrics the
// user has confirmed seeing, and only for the exact computation they saw.
type acknowledgmentGate struct {
	store metricsStore
	now   func() time.Time
}

func newAcknowledgmentGate(store metricsStore, now func() time.Time) *acknowledgmentGate {
	return &acknowledgmentGate{store: store, now: now}
}

// acknowledge records that the user has seen the metrics identified by
// (version, metricsComputedAt).
//
// Matching truncates both timestamps to the whole second — truncation, not
// rounding. Client serialization round-trips may drop or alter the sub-second
// fraction, and a rounding comparison shifted the stored side up a full
// second whenever its fraction was >= 0.5s, silently rejecting valid
// acknowledgments. Genuinely different computations still differ in the
// integer second and are still rejected.
//
// No matching metrics → notFoundError (the caller should refetch current
// metrics and retry — never a validationError, which would tell the caller
// to fix the request shape instead). An acknowledgment that already exists
// for the exact key is returned unchanged, including when a concurrent
// duplicate insert trips the uniqueness constraint.
func (g *acknowledgmentGate) acknowledge(ctx context.Context, userID, version int, metricsComputedAt time.Time) (*acknowledgmentRecord, error) {
	second := metricsComputedAt.UTC().Truncate(time.Second)

	rec, err := g.store.MetricsBySecond(ctx, userID, version, second)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &notFoundError{Msg: "no metrics match the given version and timestamp"}
	}

	existing, err := g.store.AcknowledgmentByKey(ctx, userID, version, second)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ack := &acknowledgmentRecord{
		UserID:            userID,
		Version:           version,
		MetricsComputedAt: second,
		AcknowledgedAt:    g.now(),
	}
	stored, err := g.store.InsertAcknowledgment(ctx, ack)
	if errors.Is(err, errDuplicateKey) {
		// A concurrent call won the insert; its row is ours too.
		winner, lookupErr := g.store.AcknowledgmentByKey(ctx, userID, version, second)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if winner == nil {
			return nil, storageErr("acknowledgment conflict recovery", errDuplicateKey)
		}
		return winner, nil
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// acknowledgedFor reports whether an acknowledgment exists for the given
// metrics record's exact (version, floored second) key.
func (g *acknowledgmentGate) acknowledgedFor(ctx context.Context, rec *metricsRecord) (bool, error) {
	second := rec.ComputedAt.UTC().Truncate(time.Second)
	ack, err := g.store.AcknowledgmentByKey(ctx, rec.UserID, rec.Version, second)
	if err != nil {
		return false, err
	}
	return ack != nil, nil
}

// isAcknowledged reports whether the record current for today has been
// acknowledged. Regenerating metrics bumps the version, so an acknowledgment
// of the old version stops counting even though its row still exists.
func (g *acknowledgmentGate) isAcknowledged(ctx context.Context, userID int) (bool, error) {
	computer := metricsComputer{store: g.store, now: g.now}
	cur, err := computer.currentForToday(ctx, userID)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return false, nil
	}
	return g.acknowledgedFor(ctx, cur)
}

/* ─── Handler ────────────────────────────────────────────────────────── */

// acknowledgeMetrics handles POST /api/metrics/acknowledge.
// Body: { "version": int, "metrics_computed_at": RFC3339 string }.
//
// A structurally invalid body is a 400; a well-formed request naming a
// version+timestamp with no matching metrics is a 404. Collapsing the two
// (an old defect) made clients hide their retry affordance right after a
// metrics regeneration — exactly when retrying would have worked.
func (h *Handler) acknowledgeMetrics(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body acknowledgeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Version == nil || *body.Version <= 0 {
		apiError(c, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	if body.MetricsComputedAt == nil {
		apiError(c, http.StatusBadRequest, "metrics_computed_at is required")
		return
	}
	computedAt, err := time.Parse(time.RFC3339Nano, *body.MetricsComputedAt)
	if err != nil {
		apiError(c, http.StatusBadRequest, "metrics_computed_at must be an ISO-8601 datetime")
		return
	}

	ack, err := h.acks.acknowledge(c, userID, *body.Version, computedAt)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}
