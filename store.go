package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// metricsStore is the persistence boundary of the engine. health_metrics and
// metric_acknowledgments rows are written only through this interface, and
// all cross-process concurrency correctness lives in the schema's uniqueness
// constraints — implementations report a constraint hit as errDuplicateKey
// and the components turn it into the idempotent success path.
//
// Lookup methods return (nil, nil) when no row matches; errors are always
// transientStorageError.
type metricsStore interface {
	// LatestMetrics returns the highest-version metrics record for the user.
	LatestMetrics(ctx context.Context, userID int) (*metricsRecord, error)
	// MetricsBySecond returns the record matching version exactly and
	// computed_at truncated (not rounded) to the given whole second.
	MetricsBySecond(ctx context.Context, userID, version int, second time.Time) (*metricsRecord, error)
	// InsertMetrics persists a new record, returning the stored row.
	// A (user_id, version) collision yields errDuplicateKey.
	InsertMetrics(ctx context.Context, rec *metricsRecord) (*metricsRecord, error)

	// AcknowledgmentByKey returns the acknowledgment for the exact
	// (user, version, floored second) key.
	AcknowledgmentByKey(ctx context.Context, userID, version int, second time.Time) (*acknowledgmentRecord, error)
	// InsertAcknowledgment persists a new acknowledgment. A key collision
	// yields errDuplicateKey.
	InsertAcknowledgment(ctx context.Context, rec *acknowledgmentRecord) (*acknowledgmentRecord, error)

	// PlanForWeek returns the plan snapshot for the week starting weekStart.
	PlanForWeek(ctx context.Context, userID int, weekStart time.Time) (*planSnapshot, error)
	// UpsertPlan creates or refreshes the snapshot for its (user, week) key.
	UpsertPlan(ctx context.Context, snap *planSnapshot) (*planSnapshot, error)

	// ProfileFor returns the user's science profile.
	ProfileFor(ctx context.Context, userID int) (*scienceProfile, error)
	// OnboardedProfiles returns the profiles of every user with completed
	// onboarding — the weekly recompute population.
	OnboardedProfiles(ctx context.Context) ([]scienceProfile, error)
}

/* ─── Postgres implementation ─────────────────────────────────────────── */

type pgStore struct {
	pool *pgxpool.Pool
}

func newPGStore(pool *pgxpool.Pool) *pgStore {
	return &pgStore{pool: pool}
}

// classify maps raw pgx errors onto the engine's error vocabulary:
// no rows → nil record, unique violation → errDuplicateKey, anything else →
// transientStorageError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errDuplicateKey
	}
	return storageErr(op, err)
}

func (s *pgStore) LatestMetrics(ctx context.Context, userID int) (*metricsRecord, error) {
	rec, err := queryOne[metricsRecord](s.pool, ctx,
		`SELECT * FROM health_metrics
		 WHERE user_id = @userID
		 ORDER BY version DESC LIMIT 1`,
		pgx.NamedArgs{"userID": userID})
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("latest metrics lookup", err)
	}
	return &rec, nil
}

func (s *pgStore) MetricsBySecond(ctx context.Context, userID, version int, second time.Time) (*metricsRecord, error) {
	// date_trunc floors the stored timestamp; the historical ::bigint cast
	// rounded it, falsely rejecting acknowledgments whenever the fractional
	// part was >= 0.5s.
	rec, err := queryOne[metricsRecord](s.pool, ctx,
		`SELECT * FROM health_metrics
		 WHERE user_id = @userID AND version = @version
		   AND date_trunc('second', computed_at) = @second`,
		pgx.NamedArgs{"userID": userID, "version": version, "second": second})
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("metrics timestamp lookup", err)
	}
	return &rec, nil
}

func (s *pgStore) InsertMetrics(ctx context.Context, rec *metricsRecord) (*metricsRecord, error) {
	args := pgx.NamedArgs{
		"userID":         rec.UserID,
		"version":        rec.Version,
		"computedAt":     rec.ComputedAt,
		"bmr":            rec.BMR,
		"tdee":           rec.TDEE,
		"calorieTarget":  rec.CalorieTarget,
		"proteinTargetG": rec.ProteinTargetG,
		"waterTargetML":  rec.WaterTargetML,
		"weeklyRateKG":   rec.WeeklyRateKG,
		"estimatedWeeks": rec.EstimatedWeeks,
	}
	if rec.ProjectedDate != nil {
		args["projectedDate"] = rec.ProjectedDate.Time
	} else {
		args["projectedDate"] = nil
	}

	stored, err := queryOne[metricsRecord](s.pool, ctx,
		`INSERT INTO health_metrics
			(user_id, version, computed_at, bmr, tdee, calorie_target,
			 protein_target_g, water_target_ml, weekly_rate_kg,
			 estimated_weeks, projected_date)
		 VALUES (@userID, @version, @computedAt, @bmr, @tdee, @calorieTarget,
			 @proteinTargetG, @waterTargetML, @weeklyRateKG,
			 @estimatedWeeks, @projectedDate)
		 RETURNING *`, args)
	if err != nil {
		return nil, classify("metrics insert", err)
	}
	return &stored, nil
}

func (s *pgStore) AcknowledgmentByKey(ctx context.Context, userID, version int, second time.Time) (*acknowledgmentRecord, error) {
	rec, err := queryOne[acknowledgmentRecord](s.pool, ctx,
		`SELECT * FROM metric_acknowledgments
		 WHERE user_id = @userID AND version = @version
		   AND metrics_computed_at = @second`,
		pgx.NamedArgs{"userID": userID, "version": version, "second": second})
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("acknowledgment lookup", err)
	}
	return &rec, nil
}

func (s *pgStore) InsertAcknowledgment(ctx context.Context, rec *acknowledgmentRecord) (*acknowledgmentRecord, error) {
	stored, err := queryOne[acknowledgmentRecord](s.pool, ctx,
		`INSERT INTO metric_acknowledgments
			(user_id, version, metrics_computed_at, acknowledged_at)
		 VALUES (@userID, @version, @metricsComputedAt, @acknowledgedAt)
		 RETURNING *`,
		pgx.NamedArgs{
			"userID":            rec.UserID,
			"version":           rec.Version,
			"metricsComputedAt": rec.MetricsComputedAt,
			"acknowledgedAt":    rec.AcknowledgedAt,
		})
	if err != nil {
		return nil, classify("acknowledgment insert", err)
	}
	return &stored, nil
}

func (s *pgStore) PlanForWeek(ctx context.Context, userID int, weekStart time.Time) (*planSnapshot, error) {
	snap, err := queryOne[planSnapshot](s.pool, ctx,
		`SELECT * FROM plan_snapshots
		 WHERE user_id = @userID AND week_start = @weekStart`,
		pgx.NamedArgs{"userID": userID, "weekStart": weekStart.Format("2006-01-02")})
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("plan lookup", err)
	}
	return &snap, nil
}

func (s *pgStore) UpsertPlan(ctx context.Context, snap *planSnapshot) (*planSnapshot, error) {
	// previous_targets goes over the wire as a JSON string so the simple
	// query protocol can hand it straight to the jsonb column.
	var prevJSON *string
	if snap.PreviousTargets != nil {
		b, err := json.Marshal(snap.PreviousTargets)
		if err != nil {
			return nil, storageErr("plan upsert", err)
		}
		s := string(b)
		prevJSON = &s
	}

	stored, err := queryOne[planSnapshot](s.pool, ctx,
		`INSERT INTO plan_snapshots
			(user_id, week_start, week_end, metrics_version, bmr, tdee,
			 calorie_target, protein_target_g, water_target_ml,
			 weekly_rate_kg, recomputed, previous_targets)
		 VALUES (@userID, @weekStart, @weekEnd, @metricsVersion, @bmr, @tdee,
			 @calorieTarget, @proteinTargetG, @waterTargetML,
			 @weeklyRateKG, @recomputed, @previousTargets)
		 ON CONFLICT (user_id, week_start) DO UPDATE SET
			week_end         = EXCLUDED.week_end,
			metrics_version  = EXCLUDED.metrics_version,
			bmr              = EXCLUDED.bmr,
			tdee             = EXCLUDED.tdee,
			calorie_target   = EXCLUDED.calorie_target,
			protein_target_g = EXCLUDED.protein_target_g,
			water_target_ml  = EXCLUDED.water_target_ml,
			weekly_rate_kg   = EXCLUDED.weekly_rate_kg,
			recomputed       = EXCLUDED.recomputed,
			previous_targets = EXCLUDED.previous_targets,
			updated_at       = now()
		 RETURNING *`,
		pgx.NamedArgs{
			"userID":          snap.UserID,
			"weekStart":       snap.WeekStart.Time.Format("2006-01-02"),
			"weekEnd":         snap.WeekEnd.Time.Format("2006-01-02"),
			"metricsVersion":  snap.MetricsVersion,
			"bmr":             snap.BMR,
			"tdee":            snap.TDEE,
			"calorieTarget":   snap.CalorieTarget,
			"proteinTargetG":  snap.ProteinTargetG,
			"waterTargetML":   snap.WaterTargetML,
			"weeklyRateKG":    snap.WeeklyRateKG,
			"recomputed":      snap.Recomputed,
			"previousTargets": prevJSON,
		})
	if err != nil {
		return nil, classify("plan upsert", err)
	}
	return &stored, nil
}

func (s *pgStore) ProfileFor(ctx context.Context, userID int) (*scienceProfile, error) {
	p, err := queryOne[scienceProfile](s.pool, ctx,
		"SELECT * FROM science_profiles WHERE user_id = @userID",
		pgx.NamedArgs{"userID": userID})
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("profile lookup", err)
	}
	return &p, nil
}

func (s *pgStore) OnboardedProfiles(ctx context.Context) ([]scienceProfile, error) {
	profiles, err := queryMany[scienceProfile](s.pool, ctx,
		"SELECT * FROM science_profiles WHERE onboarding_complete ORDER BY user_id", nil)
	if err != nil {
		return nil, classify("population query", err)
	}
	return profiles, nil
}
