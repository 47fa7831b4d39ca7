package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlanThreshold is the fixed overall score at which plan/export generation
// becomes available. Enforcement is a display concern; the bridge only
// reports it.
const PlanThreshold = 0.7

// Scorer computes readiness for an intake session. External collaborator;
// failures surface to the caller, never as stale data.
type Scorer interface {
	Score(ctx context.Context, sessionID string) (overall float64, dimensions map[string]float64, err error)
}

// Readiness recomputes the session's readiness via the scorer and upserts
// the snapshot, so the reported score is never staler than the call that
// triggered it.
func Readiness(ctx context.Context, db *gorm.DB, scorer Scorer, sessionID string) (*models.ReadinessSnapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("intake: session id is required")
	}

	overall, dims, err := scorer.Score(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("intake: score session %s: %w", sessionID, err)
	}

	dimJSON, err := json.Marshal(dims)
	if err != nil {
		return nil, fmt.Errorf("intake: marshal dimensions: %w", err)
	}

	snap := models.ReadinessSnapshot{
		SessionID:    sessionID,
		OverallScore: overall,
		Dimensions:   string(dimJSON),
		ComputedAt:   time.Now(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"overall_score", "dimensions", "computed_at"}),
	}).Create(&snap)
	if result.Error != nil {
		return nil, fmt.Errorf("intake: store snapshot: %w", result.Error)
	}
	return &snap, nil
}

// LatestReadiness returns the cached snapshot without recomputing.
func LatestReadiness(db *gorm.DB, sessionID string) (*models.ReadinessSnapshot, error) {
	var snap models.ReadinessSnapshot
	if err := db.Where("session_id = ?", sessionID).First(&snap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("intake: latest readiness: %w", err)
	}
	return &snap, nil
}

// PlanReady reports whether the snapshot clears the plan-generation
// threshold.
func PlanReady(snap *models.ReadinessSnapshot) bool {
	return snap != nil && snap.OverallScore >= PlanThreshold
}
