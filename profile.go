package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

// inputs converts a stored profile into the engine's scienceInputs value.
// The second return lists the profile fields still missing — a profile that
// hasn't finished onboarding can't be computed against.
func (p *scienceProfile) inputs() (scienceInputs, []string) {
	var missing []string
	if p.WeightKG == nil {
		missing = append(missing, "weight_kg is required")
	}
	if p.HeightCM == nil {
		missing = append(missing, "height_cm is required")
	}
	if p.Age == nil {
		missing = append(missing, "age is required")
	}
	if p.Gender == nil {
		missing = append(missing, "gender is required")
	}
	if p.ActivityLevel == nil {
		missing = append(missing, "activity_level is required")
	}
	if p.PrimaryGoal == nil {
		missing = append(missing, "primary_goal is required")
	}
	if len(missing) > 0 {
		return scienceInputs{}, missing
	}

	return scienceInputs{
		WeightKG:       *p.WeightKG,
		HeightCM:       *p.HeightCM,
		Age:            *p.Age,
		Gender:         *p.Gender,
		ActivityLevel:  *p.ActivityLevel,
		PrimaryGoal:    *p.PrimaryGoal,
		TargetWeightKG: p.TargetWeightKG,
	}, nil
}

// getProfile returns the authenticated user's science profile.
// GET /api/profile.
func (h *Handler) getProfile(c *gin.Context) {
	userID := c.GetInt("user_id")

	p, err := queryOne[scienceProfile](h.db, c,
		"SELECT * FROM science_profiles WHERE user_id = @userID",
		pgx.NamedArgs{"userID": userID})
	if err != nil {
		apiError(c, http.StatusNotFound, "profile not found")
		return
	}

	c.JSON(http.StatusOK, p)
}

// patchProfile updates only the provided science profile fields.
// PATCH /api/profile. Pointer fields in the request body distinguish
// "not provided" from zero — only non-nil fields get updated.
//
// Enum and range checks happen here so a bad value fails loudly with a 400
// instead of silently breaking every later target computation.
func (h *Handler) patchProfile(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body patchProfileRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	var violations []string
	if body.WeightKG != nil && (*body.WeightKG < minWeightKG || *body.WeightKG > maxWeightKG) {
		violations = append(violations, "weight_kg must be between 30 and 300")
	}
	if body.HeightCM != nil && (*body.HeightCM < minHeightCM || *body.HeightCM > maxHeightCM) {
		violations = append(violations, "height_cm must be between 100 and 250")
	}
	if body.Age != nil && (*body.Age < minAgeYears || *body.Age > maxAgeYears) {
		violations = append(violations, "age must be between 13 and 120")
	}
	if body.Gender != nil {
		if _, ok := genderOffsets[*body.Gender]; !ok {
			violations = append(violations, "gender must be one of: male, female, other")
		}
	}
	if body.ActivityLevel != nil {
		if _, ok := activityMultipliers[*body.ActivityLevel]; !ok {
			violations = append(violations,
				"activity_level must be one of: sedentary, lightly_active, moderately_active, very_active, extremely_active")
		}
	}
	if body.PrimaryGoal != nil {
		if _, ok := goalProteinGramsPerKG[*body.PrimaryGoal]; !ok {
			violations = append(violations,
				"primary_goal must be one of: lose_weight, gain_muscle, maintain, improve_health")
		}
	}
	if body.TargetWeightKG != nil && (*body.TargetWeightKG < minWeightKG || *body.TargetWeightKG > maxWeightKG) {
		violations = append(violations, "target_weight_kg must be between 30 and 300")
	}
	if len(violations) > 0 {
		writeEngineError(c, &validationError{Fields: violations})
		return
	}

	// Build SET clause dynamically — only update fields the client actually sent
	setClauses := []string{}
	args := pgx.NamedArgs{"userID": userID}

	if body.WeightKG != nil {
		setClauses = append(setClauses, "weight_kg = @weightKG")
		args["weightKG"] = *body.WeightKG
	}
	if body.HeightCM != nil {
		setClauses = append(setClauses, "height_cm = @heightCM")
		args["heightCM"] = *body.HeightCM
	}
	if body.Age != nil {
		setClauses = append(setClauses, "age = @age")
		args["age"] = *body.Age
	}
	if body.Gender != nil {
		setClauses = append(setClauses, "gender = @gender")
		args["gender"] = *body.Gender
	}
	if body.ActivityLevel != nil {
		setClauses = append(setClauses, "activity_level = @activityLevel")
		args["activityLevel"] = *body.ActivityLevel
	}
	if body.PrimaryGoal != nil {
		setClauses = append(setClauses, "primary_goal = @primaryGoal")
		args["primaryGoal"] = *body.PrimaryGoal
	}
	if body.TargetWeightKG != nil {
		setClauses = append(setClauses, "target_weight_kg = @targetWeightKG")
		args["targetWeightKG"] = *body.TargetWeightKG
	}
	if body.OnboardingComplete != nil {
		setClauses = append(setClauses, "onboarding_complete = @onboardingComplete")
		args["onboardingComplete"] = *body.OnboardingComplete
	}

	if len(setClauses) == 0 {
		apiError(c, http.StatusBadRequest, "no fields to update")
		return
	}

	query := "UPDATE science_profiles SET " +
		strings.Join(setClauses, ", ") +
		", updated_at = now() WHERE user_id = @userID RETURNING *"

	p, err := queryOne[scienceProfile](h.db, c, query, args)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "failed to update profile")
		return
	}

	c.JSON(http.StatusOK, p)
}
