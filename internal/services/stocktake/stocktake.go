// Package stocktake records audit sightings during a physical count
// and flags assets nobody could find.
package stocktake

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"props-system/internal/database/models"
	"props-system/internal/services/ledger"
	"props-system/internal/services/state"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// RecordSighting writes an audit ledger row confirming the asset was
// seen at a location. Sightings never move custody.
func (s *Service) RecordSighting(ctx context.Context, asset *models.Asset, location *models.Location, performedBy *models.User, notes string) (*models.Transaction, error) {
	db := s.db.WithContext(ctx)
	note := fmt.Sprintf("Stocktake: sighted at %s", location.Name)
	if notes != "" {
		note += ". " + notes
	}
	return ledger.CreateAudit(db, asset, performedBy, location, note, nil)
}

// MarkUnseenMissing transitions active assets at a location that were
// not sighted since the stocktake began to missing, collecting
// per-asset failures in bulk style.
func (s *Service) MarkUnseenMissing(ctx context.Context, locationID int64, since time.Time, performedBy *models.User) (int, []string, error) {
	db := s.db.WithContext(ctx)

	var assets []models.Asset
	err := db.Where("current_location_id = ? AND status = ?", locationID, models.StatusActive).
		Where("id NOT IN (?)", db.Model(&models.Transaction{}).
			Select("asset_id").
			Where("asset_id IS NOT NULL AND action = ? AND to_location_id = ? AND timestamp >= ?",
				models.ActionAudit, locationID, since)).
		Find(&assets).Error
	if err != nil {
		return 0, nil, err
	}

	count := 0
	var failures []string
	for i := range assets {
		asset := &assets[i]
		// Checked-out assets are with a borrower, not missing.
		if asset.IsCheckedOut() {
			continue
		}
		if err := state.TransitionAsset(db, asset, models.StatusMissing, ""); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", asset.Name, err))
			continue
		}
		note := "Stocktake: not sighted, marked missing"
		if _, err := ledger.CreateAudit(db, asset, performedBy, nil, note, nil); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", asset.Name, err))
			continue
		}
		count++
	}
	return count, failures, nil
}
