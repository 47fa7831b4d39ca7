// Package intake bridges conversational contexts to external
// intake/requirements sessions and owns the session-side state: courses of
// action and readiness snapshots.
package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("intake: not found")
	ErrConflict = errors.New("intake: conflict")
)

// Bridge associates a context with an intake session. Idempotent for the
// identical pair; any other overlap is a conflict because the mapping is
// immutable once created. The context's kind flips to intake in the same
// transaction.
func Bridge(db *gorm.DB, contextID uint, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("intake: session id is required")
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var ctx models.Context
		if err := tx.Where("id = ?", contextID).First(&ctx).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load context: %w", err)
		}

		var existing models.IntakeLink
		err := tx.Where("context_id = ? OR session_id = ?", contextID, sessionID).
			First(&existing).Error
		if err == nil {
			if existing.ContextID == contextID && existing.SessionID == sessionID {
				return nil // idempotent repeat
			}
			return fmt.Errorf("%w: context %d or session %s already bridged",
				ErrConflict, contextID, sessionID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check link: %w", err)
		}

		link := models.IntakeLink{
			ContextID: contextID,
			SessionID: sessionID,
			CreatedAt: time.Now(),
		}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("create link: %w", err)
		}
		if err := tx.Model(&models.Context{}).Where("id = ?", contextID).
			Update("kind", models.KindIntake).Error; err != nil {
			return fmt.Errorf("flip kind: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("intake: bridge: %w", err)
	}
	return nil
}

// IsIntake reports whether the context is intake-bridged.
func IsIntake(db *gorm.DB, contextID uint) (bool, error) {
	var count int64
	if err := db.Model(&models.IntakeLink{}).
		Where("context_id = ?", contextID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("intake: is intake: %w", err)
	}
	return count > 0, nil
}

// SessionFor returns the intake session id bridged to a context.
func SessionFor(db *gorm.DB, contextID uint) (string, error) {
	var link models.IntakeLink
	if err := db.Where("context_id = ?", contextID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("intake: session for context %d: %w", contextID, err)
	}
	return link.SessionID, nil
}

// ContextFor returns the context id bridged to an intake session.
func ContextFor(db *gorm.DB, sessionID string) (uint, error) {
	var link models.IntakeLink
	if err := db.Where("session_id = ?", sessionID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("intake: context for session %s: %w", sessionID, err)
	}
	return link.ContextID, nil
}
