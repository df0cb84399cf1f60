package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memStore is an in-memory metricsStore for tests. It enforces the same
// uniqueness keys as the SQL schema — (user_id, version) on metrics,
// (user_id, version, metrics_computed_at) on acknowledgments,
// (user_id, week_start) on plans — so the conflict-resolution paths behave
// exactly as they would against Postgres.
//
// beforeInsertMetrics / beforeInsertAck run inside the insert, before the
// uniqueness check, letting a test slip in a competing row to simulate a
// lost race. failAll makes every method fail like an unavailable database.
type memStore struct {
	mu       sync.Mutex
	metrics  []metricsRecord
	acks     []acknowledgmentRecord
	plans    []planSnapshot
	profiles map[int]scienceProfile
	nextID   int

	failAll             bool
	beforeInsertMetrics func()
	beforeInsertAck     func()

	nowFn func() time.Time // stamps created_at/updated_at; defaults to time.Now
}

func newMemStore() *memStore {
	return &memStore{profiles: make(map[int]scienceProfile), nowFn: time.Now}
}

var errStoreDown = errors.New("store down")

func (s *memStore) id() int {
	s.nextID++
	return s.nextID
}

func (s *memStore) LatestMetrics(_ context.Context, userID int) (*metricsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("latest metrics lookup", errStoreDown)
	}
	var latest *metricsRecord
	for i := range s.metrics {
		r := s.metrics[i]
		if r.UserID == userID && (latest == nil || r.Version > latest.Version) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) MetricsBySecond(_ context.Context, userID, version int, second time.Time) (*metricsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("metrics timestamp lookup", errStoreDown)
	}
	for _, r := range s.metrics {
		if r.UserID == userID && r.Version == version &&
			r.ComputedAt.UTC().Truncate(time.Second).Equal(second) {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) InsertMetrics(_ context.Context, rec *metricsRecord) (*metricsRecord, error) {
	if s.beforeInsertMetrics != nil {
		hook := s.beforeInsertMetrics
		s.beforeInsertMetrics = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("metrics insert", errStoreDown)
	}
	for _, r := range s.metrics {
		if r.UserID == rec.UserID && r.Version == rec.Version {
			return nil, errDuplicateKey
		}
	}
	stored := *rec
	stored.ID = s.id()
	now := s.nowFn()
	stored.CreatedAt = &now
	s.metrics = append(s.metrics, stored)
	cp := stored
	return &cp, nil
}

func (s *memStore) AcknowledgmentByKey(_ context.Context, userID, version int, second time.Time) (*acknowledgmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("acknowledgment lookup", errStoreDown)
	}
	for _, a := range s.acks {
		if a.UserID == userID && a.Version == version && a.MetricsComputedAt.Equal(second) {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) InsertAcknowledgment(_ context.Context, rec *acknowledgmentRecord) (*acknowledgmentRecord, error) {
	if s.beforeInsertAck != nil {
		hook := s.beforeInsertAck
		s.beforeInsertAck = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("acknowledgment insert", errStoreDown)
	}
	for _, a := range s.acks {
		if a.UserID == rec.UserID && a.Version == rec.Version && a.MetricsComputedAt.Equal(rec.MetricsComputedAt) {
			return nil, errDuplicateKey
		}
	}
	stored := *rec
	stored.ID = s.id()
	s.acks = append(s.acks, stored)
	cp := stored
	return &cp, nil
}

func (s *memStore) PlanForWeek(_ context.Context, userID int, weekStart time.Time) (*planSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("plan lookup", errStoreDown)
	}
	for _, p := range s.plans {
		if p.UserID == userID && p.WeekStart.Time.Equal(weekStart) {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpsertPlan(_ context.Context, snap *planSnapshot) (*planSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("plan upsert", errStoreDown)
	}
	now := s.nowFn()
	for i := range s.plans {
		p := &s.plans[i]
		if p.UserID == snap.UserID && p.WeekStart.Time.Equal(snap.WeekStart.Time) {
			id, createdAt := p.ID, p.CreatedAt
			*p = *snap
			p.ID = id
			p.CreatedAt = createdAt
			p.UpdatedAt = &now
			cp := *p
			return &cp, nil
		}
	}
	stored := *snap
	stored.ID = s.id()
	stored.CreatedAt = &now
	stored.UpdatedAt = &now
	s.plans = append(s.plans, stored)
	cp := stored
	return &cp, nil
}

func (s *memStore) ProfileFor(_ context.Context, userID int) (*scienceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("profile lookup", errStoreDown)
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (s *memStore) OnboardedProfiles(_ context.Context) ([]scienceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, storageErr("population query", errStoreDown)
	}
	var out []scienceProfile
	for _, p := range s.profiles {
		if p.OnboardingComplete {
			out = append(out, p)
		}
	}
	return out, nil
}

/* ─── Shared test fixtures ───────────────────────────────────────────── */

// testClock is a controllable clock for engine components. The zero base is
// a Tuesday with a 700ms fraction so floor-vs-round timestamp bugs and
// week-boundary math both get exercised.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 8, 25, 9, 30, 5, 700_000_000, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// validInputs returns the reference inputs used across engine tests.
func validInputs() scienceInputs {
	target := 75.0
	return scienceInputs{
		WeightKG:       82.5,
		HeightCM:       175,
		Age:            35,
		Gender:         "male",
		ActivityLevel:  "moderately_active",
		PrimaryGoal:    "lose_weight",
		TargetWeightKG: &target,
	}
}

// seedProfile stores a fully onboarded profile for userID built from in.
func seedProfile(s *memStore, userID int, in scienceInputs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = scienceProfile{
		UserID:             userID,
		WeightKG:           &in.WeightKG,
		HeightCM:           &in.HeightCM,
		Age:                &in.Age,
		Gender:             &in.Gender,
		ActivityLevel:      &in.ActivityLevel,
		PrimaryGoal:        &in.PrimaryGoal,
		TargetWeightKG:     in.TargetWeightKG,
		OnboardingComplete: true,
	}
}
