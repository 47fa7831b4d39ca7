// Package store owns contexts and their message logs. Every client-visible
// mutation bumps the owning context's version inside the same transaction,
// so pollers never observe a version without its data.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors surfaced to the transport layer.
var (
	ErrNotFound = errors.New("store: context not found")
	ErrClosed   = errors.New("store: context closed")
)

// CreateOpts holds optional parameters for creating a context.
type CreateOpts struct {
	Tenant string
}

// Create inserts a new active context at version 0.
func Create(db *gorm.DB, owner, title string, opts CreateOpts) (*models.Context, error) {
	if owner == "" {
		return nil, fmt.Errorf("store: owner is required")
	}

	ctx := models.Context{
		Owner:     owner,
		Tenant:    opts.Tenant,
		Title:     title,
		Kind:      models.KindRegular,
		Status:    models.ContextActive,
		CreatedAt: time.Now(),
	}
	if err := db.Create(&ctx).Error; err != nil {
		return nil, fmt.Errorf("store: create context: %w", err)
	}
	return &ctx, nil
}

// Get returns a context by id without its messages.
func Get(db *gorm.DB, id uint) (*models.Context, error) {
	var ctx models.Context
	if err := db.Where("id = ?", id).First(&ctx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get context %d: %w", id, err)
	}
	return &ctx, nil
}

// GetWithMessages returns a context with its full message log ordered by turn.
func GetWithMessages(db *gorm.DB, id uint) (*models.Context, error) {
	var ctx models.Context
	err := db.Preload("Messages", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("turn ASC")
	}).Where("id = ?", id).First(&ctx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get context %d: %w", id, err)
	}
	return &ctx, nil
}

// Summary is the list-view projection of a context.
type Summary struct {
	ID           uint      `json:"id"`
	Title        string    `json:"title"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	MessageCount int       `json:"message_count"`
	IsProcessing bool      `json:"is_processing"`
	QueueDepth   int       `json:"queue_depth"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// List returns context summaries for an owner, oldest first. Closed contexts
// are included only when includeClosed is set.
func List(db *gorm.DB, owner string, includeClosed bool) ([]Summary, error) {
	q := db.Model(&models.Context{}).Where("owner = ?", owner)
	if !includeClosed {
		q = q.Where("status = ?", models.ContextActive)
	}

	var ctxs []models.Context
	if err := q.Order("created_at ASC, id ASC").Find(&ctxs).Error; err != nil {
		return nil, fmt.Errorf("store: list contexts for %s: %w", owner, err)
	}

	counts := make(map[uint]int)
	type countRow struct {
		ContextID uint
		Count     int
	}
	var rows []countRow
	db.Model(&models.Message{}).
		Select("context_id, count(*) as count").
		Group("context_id").
		Find(&rows)
	for _, r := range rows {
		counts[r.ContextID] = r.Count
	}

	out := make([]Summary, len(ctxs))
	for i, c := range ctxs {
		out[i] = Summary{
			ID:           c.ID,
			Title:        c.Title,
			Kind:         c.Kind,
			Status:       c.Status,
			MessageCount: counts[c.ID],
			IsProcessing: c.IsProcessing,
			QueueDepth:   c.QueueDepth,
			Version:      c.Version,
			CreatedAt:    c.CreatedAt,
		}
	}
	return out, nil
}

// lockContext loads a context row FOR UPDATE inside tx, so concurrent
// transactions serialize their version bumps on the row instead of both
// reading the same snapshot. The sqlite driver drops the locking clause;
// sqlite has one writer at a time anyway.
func lockContext(tx *gorm.DB, id uint) (*models.Context, error) {
	var ctx models.Context
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&ctx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load context: %w", err)
	}
	return &ctx, nil
}

// Close marks a context closed. Terminal: further user sends are rejected.
// The status flip is client-visible, so the version bumps with it.
func Close(db *gorm.DB, id uint) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		ctx, err := lockContext(tx, id)
		if err != nil {
			return err
		}
		if ctx.Status == models.ContextClosed {
			return ErrClosed
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":    models.ContextClosed,
			"closed_at": now,
			"version":   ctx.Version + 1,
		}
		if err := tx.Model(&models.Context{}).Where("id = ?", id).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrClosed) {
			return err
		}
		return fmt.Errorf("store: close context %d: %w", id, err)
	}
	return nil
}

// AppendMessage appends a message in a single transaction: turn is the next
// in the context's sequence, version bumps by one, and the message is
// stamped with the new version so cursor queries can find it.
//
// Closed contexts reject user and intervention messages. Assistant and
// system messages are still accepted so an in-flight computation can land
// its tail after an explicit close.
func AppendMessage(db *gorm.DB, contextID uint, role, content string) (*models.Message, error) {
	var msg *models.Message

	err := db.Transaction(func(tx *gorm.DB) error {
		ctx, err := lockContext(tx, contextID)
		if err != nil {
			return err
		}
		if ctx.Status == models.ContextClosed &&
			(role == models.RoleUser || role == models.RoleIntervention) {
			return ErrClosed
		}

		var maxTurn int
		tx.Model(&models.Message{}).
			Where("context_id = ?", contextID).
			Select("COALESCE(MAX(turn), 0)").Scan(&maxTurn)

		newVersion := ctx.Version + 1
		msg = &models.Message{
			ContextID: contextID,
			Role:      role,
			Content:   content,
			Turn:      maxTurn + 1,
			Version:   newVersion,
			CreatedAt: time.Now(),
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		if err := tx.Model(&models.Context{}).Where("id = ?", contextID).
			Update("version", newVersion).Error; err != nil {
			return fmt.Errorf("bump version: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	return msg, nil
}

// SetProcessing flips the in-flight flag. A no-op when the flag already has
// the requested value; otherwise the flip is poller-visible and bumps the
// version.
func SetProcessing(db *gorm.DB, contextID uint, processing bool) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		ctx, err := lockContext(tx, contextID)
		if err != nil {
			return err
		}
		if ctx.IsProcessing == processing {
			return nil
		}

		updates := map[string]interface{}{
			"is_processing": processing,
			"version":       ctx.Version + 1,
		}
		if processing {
			updates["processing_at"] = time.Now()
		} else {
			updates["processing_at"] = nil
		}
		if err := tx.Model(&models.Context{}).Where("id = ?", contextID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update flag: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("store: set processing: %w", err)
	}
	return nil
}

// AdjustQueueDepth adds delta to the pending-message counter, clamped at
// zero, bumping the version.
func AdjustQueueDepth(db *gorm.DB, contextID uint, delta int) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		ctx, err := lockContext(tx, contextID)
		if err != nil {
			return err
		}

		depth := ctx.QueueDepth + delta
		if depth < 0 {
			depth = 0
		}
		if err := tx.Model(&models.Context{}).Where("id = ?", contextID).
			Updates(map[string]interface{}{
				"queue_depth": depth,
				"version":     ctx.Version + 1,
			}).Error; err != nil {
			return fmt.Errorf("update depth: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("store: adjust queue depth: %w", err)
	}
	return nil
}

// ChangesSince returns messages stamped with a version greater than
// sinceVersion, ordered by turn. sinceVersion 0 yields the full history; a
// stale cursor simply yields the full backlog.
func ChangesSince(db *gorm.DB, contextID uint, sinceVersion int64) ([]models.Message, error) {
	var msgs []models.Message
	if err := db.Where("context_id = ? AND version > ?", contextID, sinceVersion).
		Order("turn ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: changes since %d: %w", sinceVersion, err)
	}
	return msgs, nil
}
