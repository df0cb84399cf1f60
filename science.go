package main

import (
	"fmt"
	"math"
	"time"
)

// activityMultipliers maps activity level strings to their TDEE multiplier.
// This is the single source of truth for valid activity levels — also used
// for input validation here and in patchProfile.
var activityMultipliers = map[string]float64{
	"sedentary":         1.2,
	"lightly_active":    1.375,
	"moderately_active": 1.55,
	"very_active":       1.725,
	"extremely_active":  1.9,
}

// genderOffsets holds the Mifflin-St Jeor constant per gender. "other" uses
// the average of the male and female constants.
var genderOffsets = map[string]float64{
	"male":   5,
	"female": -161,
	"other":  -78,
}

// goalProteinGramsPerKG maps primary goal to the daily protein target in
// grams per kg of body weight. Also the validity set for primary goals.
var goalProteinGramsPerKG = map[string]float64{
	"lose_weight":    2.2,
	"gain_muscle":    2.4,
	"maintain":       1.8,
	"improve_health": 1.8,
}

// goalCalorieAdjustment maps primary goal to the daily calorie delta applied
// on top of TDEE.
var goalCalorieAdjustment = map[string]int{
	"lose_weight":    -500,
	"gain_muscle":    400,
	"maintain":       0,
	"improve_health": 0,
}

// goalWeeklyRateKG maps primary goal to the expected weekly weight change in
// kg (negative = loss).
var goalWeeklyRateKG = map[string]float64{
	"lose_weight":    -0.5,
	"gain_muscle":    0.4,
	"maintain":       0,
	"improve_health": 0,
}

// Canonical input ranges. Earlier revisions of the product used 20–500 kg in
// one place and 30–300 kg in another; 30–300 is canonical now.
const (
	minWeightKG = 30
	maxWeightKG = 300
	minHeightCM = 100
	maxHeightCM = 250
	minAgeYears = 13
	maxAgeYears = 120
)

// validateScienceInputs checks every field and returns one message per
// violation — callers get the full list, not just the first problem.
// An empty slice means the inputs are valid.
func validateScienceInputs(in scienceInputs) []string {
	var violations []string

	if in.WeightKG < minWeightKG || in.WeightKG > maxWeightKG {
		violations = append(violations,
			fmt.Sprintf("weight_kg must be between %d and %d", minWeightKG, maxWeightKG))
	}
	if in.HeightCM < minHeightCM || in.HeightCM > maxHeightCM {
		violations = append(violations,
			fmt.Sprintf("height_cm must be between %d and %d", minHeightCM, maxHeightCM))
	}
	if in.Age < minAgeYears || in.Age > maxAgeYears {
		violations = append(violations,
			fmt.Sprintf("age must be between %d and %d", minAgeYears, maxAgeYears))
	}
	if _, ok := genderOffsets[in.Gender]; !ok {
		violations = append(violations, "gender must be one of: male, female, other")
	}
	if _, ok := activityMultipliers[in.ActivityLevel]; !ok {
		violations = append(violations,
			"activity_level must be one of: sedentary, lightly_active, moderately_active, very_active, extremely_active")
	}
	if _, ok := goalProteinGramsPerKG[in.PrimaryGoal]; !ok {
		violations = append(violations,
			"primary_goal must be one of: lose_weight, gain_muscle, maintain, improve_health")
	}
	if in.TargetWeightKG != nil && (*in.TargetWeightKG < minWeightKG || *in.TargetWeightKG > maxWeightKG) {
		violations = append(violations,
			fmt.Sprintf("target_weight_kg must be between %d and %d", minWeightKG, maxWeightKG))
	}

	return violations
}

// computeBMR computes basal metabolic rate via Mifflin-St Jeor, rounded to
// the nearest whole calorie. Inputs must already be validated.
func computeBMR(in scienceInputs) int {
	bmrF := 10*in.WeightKG + 6.25*in.HeightCM - 5*float64(in.Age) + genderOffsets[in.Gender]
	return int(math.Round(bmrF))
}

// computeTDEEFromBMR scales BMR by the activity multiplier, rounded to the
// nearest whole calorie.
func computeTDEEFromBMR(bmr int, activityLevel string) int {
	return int(math.Round(float64(bmr) * activityMultipliers[activityLevel]))
}

// calorieTargetFor applies the goal's calorie adjustment on top of TDEE.
func calorieTargetFor(tdee int, goal string) int {
	return tdee + goalCalorieAdjustment[goal]
}

// proteinTargetFor computes the daily protein target in grams.
func proteinTargetFor(weightKG float64, goal string) float64 {
	return weightKG * goalProteinGramsPerKG[goal]
}

// waterTargetFor computes the daily water target (35 ml per kg), rounded to
// the nearest 100 ml.
func waterTargetFor(weightKG float64) int {
	return int(math.Round(weightKG*35/100)) * 100
}

// projectTimeline estimates how many weeks it takes to reach targetWeight at
// weeklyRate, and the projected calendar date. Returns nils when there is no
// target weight or the rate is zero (maintain / improve_health).
func projectTimeline(currentWeightKG float64, targetWeightKG *float64, weeklyRateKG float64, now time.Time) (*float64, *DateOnly) {
	if targetWeightKG == nil || weeklyRateKG == 0 {
		return nil, nil
	}
	weeks := math.Abs(*targetWeightKG-currentWeightKG) / math.Abs(weeklyRateKG)
	projected := DateOnly{now.AddDate(0, 0, int(math.Round(weeks*7)))}
	return &weeks, &projected
}

// computeTargets derives the full set of daily targets from validated inputs.
// Pure — the only inputs are the struct and the caller's notion of "now"
// (used solely for the projected date).
func computeTargets(in scienceInputs, now time.Time) computedTargets {
	bmr := computeBMR(in)
	tdee := computeTDEEFromBMR(bmr, in.ActivityLevel)
	rate := goalWeeklyRateKG[in.PrimaryGoal]
	weeks, projected := projectTimeline(in.WeightKG, in.TargetWeightKG, rate, now)

	return computedTargets{
		BMR:            bmr,
		TDEE:           tdee,
		CalorieTarget:  calorieTargetFor(tdee, in.PrimaryGoal),
		ProteinTargetG: proteinTargetFor(in.WeightKG, in.PrimaryGoal),
		WaterTargetML:  waterTargetFor(in.WeightKG),
		WeeklyRateKG:   rate,
		EstimatedWeeks: weeks,
		ProjectedDate:  projected,
	}
}

// currentMonday returns the Monday of the week containing t, at midnight UTC.
// Uses AddDate to safely handle month/year boundaries — direct day subtraction
// can produce day=0 or negative, which time.Date normalizes but is confusing.
func currentMonday(t time.Time) time.Time {
	now := t.UTC()
	weekday := int(now.Weekday()) // 0=Sun
	if weekday == 0 {
		weekday = 7 // treat Sunday as day 7 so Mon=1..Sun=7
	}
	daysBack := weekday - 1
	return now.AddDate(0, 0, -daysBack).Truncate(24 * time.Hour)
}
