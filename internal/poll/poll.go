// Package poll answers incremental sync queries: what changed in a context
// since a client-supplied version, and when to ask again.
package poll

import (
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/gorm"
)

// Change types surfaced to clients.
const (
	ChangeNewMessage   = "new_message"
	ChangeStatusChange = "status_change"
)

// Default poll intervals in milliseconds. Fixed values: retries are
// idempotent, so no backoff is needed.
const (
	DefaultActivePollMS = 750
	DefaultIdlePollMS   = 2000
)

// Intervals configures the suggested poll cadence.
type Intervals struct {
	ActiveMS int // while the context is processing
	IdleMS   int
}

func (iv Intervals) withDefaults() Intervals {
	if iv.ActiveMS <= 0 {
		iv.ActiveMS = DefaultActivePollMS
	}
	if iv.IdleMS <= 0 {
		iv.IdleMS = DefaultIdlePollMS
	}
	return iv
}

// MessagePayload is the wire form of a message inside a change.
type MessagePayload struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Turn      int       `json:"turn"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Change is one entry in a poll diff.
type Change struct {
	Type         string          `json:"type"`
	Message      *MessagePayload `json:"message,omitempty"`
	Status       string          `json:"status,omitempty"`
	IsProcessing *bool           `json:"is_processing,omitempty"`
	QueueDepth   *int            `json:"queue_depth,omitempty"`
}

// StateUpdates carries the diff itself.
type StateUpdates struct {
	UpToDate bool     `json:"up_to_date"`
	Changes  []Change `json:"changes"`
}

// Delta is the full poll response. DirtyVersion is the cursor the client
// passes back as since_version on its next poll.
type Delta struct {
	DirtyVersion int64        `json:"dirty_version"`
	IsProcessing bool         `json:"is_processing"`
	QueueDepth   int          `json:"queue_depth"`
	Status       string       `json:"status"`
	PollAfterMS  int          `json:"poll_after_ms"`
	StateUpdates StateUpdates `json:"state_updates"`
}

// State computes the diff for one context since sinceVersion. A cursor equal
// to the current version yields up_to_date with no changes; version 0 yields
// the full history. Clients that fell behind simply get the whole backlog.
// clientID is accepted for parity with the wire contract; the gateway keeps
// no per-client state.
func State(db *gorm.DB, contextID uint, sinceVersion int64, clientID string, iv Intervals) (*Delta, error) {
	iv = iv.withDefaults()

	ctx, err := store.Get(db, contextID)
	if err != nil {
		return nil, err
	}

	delta := &Delta{
		DirtyVersion: ctx.Version,
		IsProcessing: ctx.IsProcessing,
		QueueDepth:   ctx.QueueDepth,
		Status:       ctx.Status,
		PollAfterMS:  iv.IdleMS,
	}
	if ctx.IsProcessing {
		delta.PollAfterMS = iv.ActiveMS
	}

	if sinceVersion >= ctx.Version {
		delta.StateUpdates.UpToDate = true
		delta.StateUpdates.Changes = []Change{}
		return delta, nil
	}

	msgs, err := store.ChangesSince(db, contextID, sinceVersion)
	if err != nil {
		return nil, err
	}

	changes := make([]Change, 0, len(msgs)+1)
	var maxMsgVersion int64
	for _, m := range msgs {
		changes = append(changes, newMessageChange(m))
		if m.Version > maxMsgVersion {
			maxMsgVersion = m.Version
		}
	}

	// The version advanced past what the messages account for: a flag or
	// status flip happened. Surface it as one trailing status change with
	// the current values. A poll spanning a reply and the flag clearing
	// therefore reports two changes, the message and the flip.
	if ctx.Version > maxMsgVersion {
		processing := ctx.IsProcessing
		depth := ctx.QueueDepth
		changes = append(changes, Change{
			Type:         ChangeStatusChange,
			Status:       ctx.Status,
			IsProcessing: &processing,
			QueueDepth:   &depth,
		})
	}

	delta.StateUpdates.Changes = changes
	return delta, nil
}

func newMessageChange(m models.Message) Change {
	return Change{
		Type: ChangeNewMessage,
		Message: &MessagePayload{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Turn:      m.Turn,
			Version:   m.Version,
			CreatedAt: m.CreatedAt,
		},
	}
}
