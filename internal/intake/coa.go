package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// ProposeCOA adds a course of action to a session in proposed state.
func ProposeCOA(db *gorm.DB, sessionID, title string) (*models.COA, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("intake: session id is required")
	}
	if title == "" {
		return nil, fmt.Errorf("intake: coa title is required")
	}

	coa := models.COA{
		SessionID: sessionID,
		Title:     title,
		Status:    models.COAProposed,
		CreatedAt: time.Now(),
	}
	if err := db.Create(&coa).Error; err != nil {
		return nil, fmt.Errorf("intake: propose coa: %w", err)
	}
	return &coa, nil
}

// ListCOAs returns a session's courses of action, oldest first.
func ListCOAs(db *gorm.DB, sessionID string) ([]models.COA, error) {
	var coas []models.COA
	if err := db.Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").Find(&coas).Error; err != nil {
		return nil, fmt.Errorf("intake: list coas: %w", err)
	}
	return coas, nil
}

// SelectCOA marks a COA selected. Rejected while another COA of the same
// session is selected; the caller must unselect first. Selecting the
// already-selected COA is a no-op.
func SelectCOA(db *gorm.DB, coaID uint) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		var coa models.COA
		if err := tx.Where("id = ?", coaID).First(&coa).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load coa: %w", err)
		}
		if coa.Status == models.COASelected {
			return nil
		}

		var selected models.COA
		err := tx.Where("session_id = ? AND status = ?", coa.SessionID, models.COASelected).
			First(&selected).Error
		if err == nil {
			return fmt.Errorf("%w: coa %d already selected for session %s",
				ErrConflict, selected.ID, coa.SessionID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check selected: %w", err)
		}

		if err := tx.Model(&models.COA{}).Where("id = ?", coaID).
			Update("status", models.COASelected).Error; err != nil {
			return fmt.Errorf("select: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("intake: select coa: %w", err)
	}
	return nil
}

// UnselectCOA returns a selected COA to proposed, freeing the session's
// selection slot. A no-op when the COA is not currently selected.
func UnselectCOA(db *gorm.DB, coaID uint) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		var coa models.COA
		if err := tx.Where("id = ?", coaID).First(&coa).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load coa: %w", err)
		}
		if coa.Status != models.COASelected {
			return nil
		}
		if err := tx.Model(&models.COA{}).Where("id = ?", coaID).
			Update("status", models.COAProposed).Error; err != nil {
			return fmt.Errorf("unselect: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("intake: unselect coa: %w", err)
	}
	return nil
}

// RejectCOA marks a proposed COA rejected.
func RejectCOA(db *gorm.DB, coaID uint) error {
	result := db.Model(&models.COA{}).
		Where("id = ? AND status = ?", coaID, models.COAProposed).
		Update("status", models.COARejected)
	if result.Error != nil {
		return fmt.Errorf("intake: reject coa: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
