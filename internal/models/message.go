package models

import "time"

// Message roles.
const (
	RoleUser         = "user"
	RoleAssistant    = "assistant"
	RoleIntervention = "intervention"
	RoleSystem       = "system"
)

// Message is one entry in a context's conversation history. Turn is strictly
// increasing within a context and fixes the ordering regardless of wall
// clock. Version records the context version at which the message became
// visible, so ChangesSince can answer cursor queries with one range scan.
// Rows are append-only.
type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ContextID uint      `gorm:"not null;index" json:"context_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:mediumtext;not null" json:"content"`
	Turn      int       `gorm:"not null" json:"turn"`
	Version   int64     `gorm:"not null;index" json:"version"`
	CreatedAt time.Time `json:"created_at"`

	Context Context `gorm:"foreignKey:ContextID" json:"-"`
}
