package models

import "time"

// Context status values.
const (
	ContextActive = "active"
	ContextClosed = "closed"
)

// Context kind values. A context starts regular and becomes intake-bridged
// when an IntakeLink is created for it.
const (
	KindRegular = "regular"
	KindIntake  = "intake"
)

// Context is one independent conversational stream. Version is a per-context
// monotonic counter bumped on every client-visible mutation; pollers use it
// as a sync cursor. Contexts are never deleted, only closed.
type Context struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Owner        string     `gorm:"size:64;not null;index" json:"owner"`
	Tenant       string     `gorm:"size:64;index" json:"tenant,omitempty"`
	Title        string     `gorm:"size:256" json:"title"`
	Kind         string     `gorm:"size:16;default:regular" json:"kind"`
	Status       string     `gorm:"size:16;default:active;index" json:"status"`
	Version      int64      `gorm:"not null;default:0" json:"version"`
	IsProcessing bool       `gorm:"default:false" json:"is_processing"`
	QueueDepth   int        `gorm:"default:0" json:"queue_depth"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`

	Messages []Message `gorm:"foreignKey:ContextID" json:"messages,omitempty"`
}
