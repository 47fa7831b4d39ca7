package models

import "time"

// IntakeLink associates a context with an external intake/requirements
// session. Created once, immutable thereafter; its presence is what makes a
// context intake-bridged.
type IntakeLink struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ContextID uint      `gorm:"not null;uniqueIndex" json:"context_id"`
	SessionID string    `gorm:"size:64;not null;uniqueIndex" json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// COA status values.
const (
	COAProposed = "proposed"
	COASelected = "selected"
	COARejected = "rejected"
)

// COA is a proposed course of action within an intake session. At most one
// COA per session may be selected at a time.
type COA struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"size:64;not null;index" json:"session_id"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	Status    string    `gorm:"size:16;default:proposed;index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadinessSnapshot caches the latest readiness score for an intake session.
// Derived data: recomputed and overwritten on every new message or upload.
type ReadinessSnapshot struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string    `gorm:"size:64;not null;uniqueIndex" json:"session_id"`
	OverallScore float64   `gorm:"not null" json:"overall_score"`
	Dimensions   string    `gorm:"type:json" json:"dimensions"` // JSON object of per-dimension scores
	ComputedAt   time.Time `json:"computed_at"`
}
