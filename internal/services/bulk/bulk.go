// Package bulk applies movement and status operations across asset
// sets with partial-failure semantics: one bad row reports itself
// without aborting its siblings.
//
// No lock is held across a batch. Each asset's mutation is its own
// locked unit, so one contended asset cannot stall the rest.
package bulk

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"props-system/internal/database/models"
	"props-system/internal/services/checkout"
	"props-system/internal/services/state"
)

// Result is the per-batch breakdown returned by the movement
// operations.
type Result struct {
	Succeeded int      `json:"succeeded"`
	Skipped   []string `json:"skipped"`
}

type Service struct {
	db       *gorm.DB
	protocol *checkout.Service
}

func NewService(db *gorm.DB, protocol *checkout.Service) *Service {
	return &Service{db: db, protocol: protocol}
}

// Transfer moves eligible assets to a location. Checked-out assets
// are reported as skipped by name, not treated as errors.
func (s *Service) Transfer(ctx context.Context, assetIDs []int64, location *models.Location, performedBy *models.User) (*Result, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).Where("id IN ?", assetIDs).Find(&assets).Error; err != nil {
		return nil, err
	}

	res := &Result{}
	for _, asset := range assets {
		if asset.IsCheckedOut() {
			res.Skipped = append(res.Skipped, asset.Name)
			continue
		}
		if asset.Status != models.StatusActive {
			res.Skipped = append(res.Skipped, asset.Name)
			continue
		}
		_, err := s.protocol.Transfer(ctx, asset.ID, location, performedBy, "Bulk transfer", nil)
		if err != nil {
			res.Skipped = append(res.Skipped, asset.Name)
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// Checkout checks eligible assets out to one borrower. Assets already
// out are skipped, and a skipped asset comes back untouched — home
// establishment happens inside the per-asset locked checkout, never
// up front across the batch.
//
// Each checkout goes through the same locked protocol as a single
// checkout, so the batch shares its race-safety guarantee.
func (s *Service) Checkout(ctx context.Context, assetIDs []int64, borrower, performedBy *models.User, notes string, ts *time.Time) (*Result, error) {
	db := s.db.WithContext(ctx)

	var assets []models.Asset
	if err := db.Where("id IN ? AND status IN ?", assetIDs,
		[]string{models.StatusActive, models.StatusDraft}).Find(&assets).Error; err != nil {
		return nil, err
	}

	res := &Result{}
	for _, asset := range assets {
		if asset.IsCheckedOut() {
			res.Skipped = append(res.Skipped, asset.Name)
			continue
		}
		_, err := s.protocol.Checkout(ctx, asset.ID, borrower, performedBy, nil, notes, ts)
		if err != nil {
			res.Skipped = append(res.Skipped, asset.Name)
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// Checkin returns checked-out assets to a location. Assets nobody
// holds are skipped.
func (s *Service) Checkin(ctx context.Context, assetIDs []int64, location *models.Location, performedBy *models.User, notes string, ts *time.Time) (*Result, error) {
	var assets []models.Asset
	if err := s.db.WithContext(ctx).Where("id IN ?", assetIDs).Find(&assets).Error; err != nil {
		return nil, err
	}

	res := &Result{}
	for _, asset := range assets {
		if !asset.IsCheckedOut() {
			res.Skipped = append(res.Skipped, asset.Name)
			continue
		}
		_, err := s.protocol.Checkin(ctx, asset.ID, location, performedBy, notes, ts)
		if err != nil {
			res.Skipped = append(res.Skipped, asset.Name)
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// StatusChange validates each asset's transition individually and
// applies the valid ones. Returns the success count and a message
// per failed asset.
func (s *Service) StatusChange(ctx context.Context, assetIDs []int64, newStatus, notes string, performedBy *models.User) (int, []string, error) {
	db := s.db.WithContext(ctx)

	var assets []models.Asset
	if err := db.Where("id IN ?", assetIDs).Find(&assets).Error; err != nil {
		return 0, nil, err
	}

	var validIDs []int64
	var failures []string
	for i := range assets {
		asset := &assets[i]
		if err := state.ValidateTransition(asset, newStatus, notes); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", asset.Name, err))
			continue
		}
		validIDs = append(validIDs, asset.ID)
	}
	if len(validIDs) == 0 {
		return 0, failures, nil
	}

	// All valid transitions go in one batch update; the failed ones
	// above are untouched.
	updates := map[string]interface{}{"status": newStatus}
	if (newStatus == models.StatusLost || newStatus == models.StatusStolen) && notes != "" {
		updates["lost_stolen_notes"] = notes
	}
	if err := db.Model(&models.Asset{}).Where("id IN ?", validIDs).Updates(updates).Error; err != nil {
		return 0, nil, err
	}
	return len(validIDs), failures, nil
}

// Edit applies category and/or location across assets. Blank fields
// never overwrite existing values — only supplied fields are applied.
func (s *Service) Edit(ctx context.Context, assetIDs []int64, categoryID, locationID *int64) (int, error) {
	db := s.db.WithContext(ctx)

	updates := map[string]interface{}{}
	if categoryID != nil {
		var category models.Category
		if err := db.First(&category, *categoryID).Error; err != nil {
			return 0, fmt.Errorf("category not found: %w", err)
		}
		updates["category_id"] = category.ID
	}
	if locationID != nil {
		var location models.Location
		if err := db.Where("id = ? AND is_active = ?", *locationID, true).First(&location).Error; err != nil {
			return 0, fmt.Errorf("location not found: %w", err)
		}
		updates["current_location_id"] = location.ID
	}
	if len(updates) == 0 {
		return 0, nil
	}

	result := db.Model(&models.Asset{}).Where("id IN ?", assetIDs).Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
