package main

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// DateOnly wraps time.Time to serialize as "YYYY-MM-DD" in JSON.
type DateOnly struct{ time.Time }

func (d DateOnly) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Time.Format("2006-01-02") + `"`), nil
}

func (d *DateOnly) UnmarshalJSON(b []byte) error {
	t, err := time.Parse(`"2006-01-02"`, string(b))
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// ScanDate implements pgtype.DateScanner so pgx can scan PostgreSQL date
// columns into DateOnly. NULL values zero the time and return nil so that
// *DateOnly pointer fields can be set to nil by pgx's NULL handling.
func (d *DateOnly) ScanDate(v pgtype.Date) error {
	if !v.Valid {
		d.Time = time.Time{}
		return nil
	}
	d.Time = v.Time
	return nil
}

/* ─── Domain structs ─────────────────────────────────────────────────── */

// user maps to the users table. AuthToken and Password are hidden from JSON responses.
type user struct {
	ID        int        `json:"id" db:"id"`
	Username  string     `json:"username" db:"username"`
	Email     string     `json:"email" db:"email"`
	AuthToken string     `json:"-" db:"auth_token"`
	Password  string     `json:"-" db:"password"`
	CreatedAt *time.Time `json:"created_at" db:"created_at"`
}

// scienceInputs is the validated biometric/goal input to target computation.
// Immutable once handed to the engine; built from the user's science profile.
type scienceInputs struct {
	WeightKG       float64  `json:"weight_kg"`
	HeightCM       float64  `json:"height_cm"`
	Age            int      `json:"age"`
	Gender         string   `json:"gender"`
	ActivityLevel  string   `json:"activity_level"`
	PrimaryGoal    string   `json:"primary_goal"`
	TargetWeightKG *float64 `json:"target_weight_kg,omitempty"`
}

// scienceProfile maps to science_profiles — one row per user, the stored
// source of scienceInputs. Biometric fields are nullable until onboarding
// completes, so fresh rows scan cleanly.
type scienceProfile struct {
	UserID             int        `json:"user_id" db:"user_id"`
	WeightKG           *float64   `json:"weight_kg" db:"weight_kg"`
	HeightCM           *float64   `json:"height_cm" db:"height_cm"`
	Age                *int       `json:"age" db:"age"`
	Gender             *string    `json:"gender" db:"gender"`
	ActivityLevel      *string    `json:"activity_level" db:"activity_level"`
	PrimaryGoal        *string    `json:"primary_goal" db:"primary_goal"`
	TargetWeightKG     *float64   `json:"target_weight_kg" db:"target_weight_kg"`
	OnboardingComplete bool       `json:"onboarding_complete" db:"onboarding_complete"`
	CreatedAt          *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at" db:"updated_at"`
}

// computedTargets is the pure output of the science formulas. No identity,
// no mutation — a value derived entirely from scienceInputs.
type computedTargets struct {
	BMR            int       `json:"bmr"`
	TDEE           int       `json:"tdee"`
	CalorieTarget  int       `json:"calorie_target"`
	ProteinTargetG float64   `json:"protein_target_g"`
	WaterTargetML  int       `json:"water_target_ml"`
	WeeklyRateKG   float64   `json:"weekly_rate_kg"`
	EstimatedWeeks *float64  `json:"estimated_weeks,omitempty"`
	ProjectedDate  *DateOnly `json:"projected_date,omitempty"`
}

// metricsRecord maps to health_metrics. One row per computation; never
// mutated or deleted — a recompute inserts a new row with version+1.
// UNIQUE(user_id, version) is what makes concurrent writers safe.
type metricsRecord struct {
	ID             int        `json:"id" db:"id"`
	UserID         int        `json:"user_id" db:"user_id"`
	Version        int        `json:"version" db:"version"`
	ComputedAt     time.Time  `json:"computed_at" db:"computed_at"`
	BMR            int        `json:"bmr" db:"bmr"`
	TDEE           int        `json:"tdee" db:"tdee"`
	CalorieTarget  int        `json:"calorie_target" db:"calorie_target"`
	ProteinTargetG float64    `json:"protein_target_g" db:"protein_target_g"`
	WaterTargetML  int        `json:"water_target_ml" db:"water_target_ml"`
	WeeklyRateKG   float64    `json:"weekly_rate_kg" db:"weekly_rate_kg"`
	EstimatedWeeks *float64   `json:"estimated_weeks,omitempty" db:"estimated_weeks"`
	ProjectedDate  *DateOnly  `json:"projected_date,omitempty" db:"projected_date"`
	CreatedAt      *time.Time `json:"created_at" db:"created_at"`
}

// targets reassembles the computedTargets value from a stored record.
func (m *metricsRecord) targets() computedTargets {
	return computedTargets{
		BMR:            m.BMR,
		TDEE:           m.TDEE,
		CalorieTarget:  m.CalorieTarget,
		ProteinTargetG: m.ProteinTargetG,
		WaterTargetML:  m.WaterTargetML,
		WeeklyRateKG:   m.WeeklyRateKG,
		EstimatedWeeks: m.EstimatedWeeks,
		ProjectedDate:  m.ProjectedDate,
	}
}

// acknowledgmentRecord maps to metric_acknowledgments. MetricsComputedAt is
// stored already truncated to the whole second; together with
// UNIQUE(user_id, version, metrics_computed_at) that makes re-acknowledgment
// idempotent rather than a duplicate.
type acknowledgmentRecord struct {
	ID                int       `json:"id" db:"id"`
	UserID            int       `json:"user_id" db:"user_id"`
	Version           int       `json:"version" db:"version"`
	MetricsComputedAt time.Time `json:"metrics_computed_at" db:"metrics_computed_at"`
	AcknowledgedAt    time.Time `json:"acknowledged_at" db:"acknowledged_at"`
}

// planSnapshot maps to plan_snapshots — one row per user per Mon–Sun week
// (UNIQUE(user_id, week_start)). MetricsVersion records which metrics the
// plan was generated against; PreviousTargets is kept for caller-side diffing
// after a refresh.
type planSnapshot struct {
	ID              int              `json:"id" db:"id"`
	UserID          int              `json:"user_id" db:"user_id"`
	WeekStart       DateOnly         `json:"week_start" db:"week_start"`
	WeekEnd         DateOnly         `json:"week_end" db:"week_end"`
	MetricsVersion  int              `json:"metrics_version" db:"metrics_version"`
	BMR             int              `json:"bmr" db:"bmr"`
	TDEE            int              `json:"tdee" db:"tdee"`
	CalorieTarget   int              `json:"calorie_target" db:"calorie_target"`
	ProteinTargetG  float64          `json:"protein_target_g" db:"protein_target_g"`
	WaterTargetML   int              `json:"water_target_ml" db:"water_target_ml"`
	WeeklyRateKG    float64          `json:"weekly_rate_kg" db:"weekly_rate_kg"`
	Recomputed      bool             `json:"recomputed" db:"recomputed"`
	PreviousTargets *computedTargets `json:"previous_targets,omitempty" db:"previous_targets"`
	CreatedAt       *time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       *time.Time       `json:"updated_at" db:"updated_at"`
}

// targets returns the plan's targets-at-creation as a computedTargets value.
func (p *planSnapshot) targets() computedTargets {
	return computedTargets{
		BMR:            p.BMR,
		TDEE:           p.TDEE,
		CalorieTarget:  p.CalorieTarget,
		ProteinTargetG: p.ProteinTargetG,
		WaterTargetML:  p.WaterTargetML,
		WeeklyRateKG:   p.WeeklyRateKG,
	}
}

// weightEntry maps to weight_log. UNIQUE(user_id, date) makes posting the
// same date an in-place update.
type weightEntry struct {
	ID        int        `json:"id" db:"id"`
	UserID    int        `json:"user_id" db:"user_id"`
	Date      DateOnly   `json:"date" db:"date"`
	WeightKG  float64    `json:"weight_kg" db:"weight_kg"`
	CreatedAt *time.Time `json:"created_at" db:"created_at"`
}

/* ─── Request / response types ───────────────────────────────────────── */

// todayMetricsResponse is the shape of GET /api/metrics/today.
type todayMetricsResponse struct {
	BMR            int       `json:"bmr"`
	TDEE           int       `json:"tdee"`
	CalorieTarget  int       `json:"calorie_target"`
	ProteinTargetG float64   `json:"protein_target_g"`
	WaterTargetML  int       `json:"water_target_ml"`
	WeeklyRateKG   float64   `json:"weekly_rate_kg"`
	EstimatedWeeks *float64  `json:"estimated_weeks,omitempty"`
	ProjectedDate  *DateOnly `json:"projected_date,omitempty"`
	Version        int       `json:"version"`
	ComputedAt     string    `json:"computed_at"`
	Acknowledged   bool      `json:"acknowledged"`
}

// computeMetricsRequest is the request body for POST /api/metrics/compute.
type computeMetricsRequest struct {
	ForceRecompute bool `json:"force_recompute"`
}

// acknowledgeRequest is the request body for POST /api/metrics/acknowledge.
// Pointer fields distinguish "missing" (structural 400) from present-but-wrong
// (semantic 404) — the two must stay separate all the way to the client.
type acknowledgeRequest struct {
	Version           *int    `json:"version"`
	MetricsComputedAt *string `json:"metrics_computed_at"`
}

// generatePlanRequest is the request body for POST /api/plan/generate.
type generatePlanRequest struct {
	ForceRecompute bool `json:"force_recompute"`
}

// patchProfileRequest is the request body for PATCH /api/profile.
// All fields are pointers — only non-nil fields get written.
type patchProfileRequest struct {
	WeightKG           *float64 `json:"weight_kg"`
	HeightCM           *float64 `json:"height_cm"`
	Age                *int     `json:"age"`
	Gender             *string  `json:"gender"`
	ActivityLevel      *string  `json:"activity_level"`
	PrimaryGoal        *string  `json:"primary_goal"`
	TargetWeightKG     *float64 `json:"target_weight_kg"`
	OnboardingComplete *bool    `json:"onboarding_complete"`
}
