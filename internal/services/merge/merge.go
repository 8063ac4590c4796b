// Package merge folds duplicate asset records into a primary asset:
// ledger history, images and tag identifiers are re-pointed, text and
// blank fields merged, and the duplicate is disposed through the
// state machine. A merge is all-or-nothing.
package merge

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"props-system/internal/database/models"
	"props-system/internal/services/ledger"
	"props-system/internal/services/permissions"
	"props-system/internal/services/state"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Merge folds every duplicate into primary and disposes of the
// duplicates. If any precondition fails, nothing is applied.
func (s *Service) Merge(ctx context.Context, primaryID int64, duplicateIDs []int64, actor *models.User) (*models.Asset, error) {
	db := s.db.WithContext(ctx)

	var primary models.Asset
	if err := db.Preload("Category.Department").Preload("CheckedOutTo").First(&primary, primaryID).Error; err != nil {
		return nil, fmt.Errorf("primary asset not found: %w", err)
	}

	var duplicates []models.Asset
	if err := db.Preload("Category.Department").Where("id IN ?", duplicateIDs).Find(&duplicates).Error; err != nil {
		return nil, err
	}

	if err := s.validate(&primary, duplicates, actor); err != nil {
		return nil, err
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for i := range duplicates {
			dup := &duplicates[i]
			if dup.ID == primary.ID {
				continue
			}
			if err := s.fold(tx, &primary, dup, actor); err != nil {
				return err
			}
		}
		return tx.Model(&models.Asset{}).Where("id = ?", primary.ID).Updates(map[string]interface{}{
			"description":         primary.Description,
			"notes":               primary.Notes,
			"category_id":         primary.CategoryID,
			"current_location_id": primary.CurrentLocationID,
			"purchase_price":      primary.PurchasePrice,
			"estimated_value":     primary.EstimatedValue,
			"quantity":            primary.Quantity,
			"barcode":             primary.Barcode,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &primary, nil
}

func (s *Service) validate(primary *models.Asset, duplicates []models.Asset, actor *models.User) error {
	if !permissions.CanMerge(actor) {
		return fmt.Errorf("you do not have permission to merge assets")
	}

	// Department managers only merge within departments they manage.
	if permissions.UserRole(actor, nil) != permissions.RoleSystemAdmin {
		managed := map[int64]bool{}
		for _, d := range actor.ManagedDepartments {
			managed[d.ID] = true
		}
		all := append([]models.Asset{*primary}, duplicates...)
		for i := range all {
			dept := permissions.AssetDepartment(&all[i])
			if dept != nil && !managed[dept.ID] {
				return fmt.Errorf(
					"you do not manage the department for asset '%s'; department managers can only merge assets within their departments",
					all[i].Name,
				)
			}
		}
	}

	if primary.IsCheckedOut() {
		return fmt.Errorf("primary asset '%s' is checked out; check it in before merging", primary.Name)
	}
	// Merging into an unresolved lost/stolen record would bury the
	// recovery decision.
	if primary.Status == models.StatusLost || primary.Status == models.StatusStolen {
		return fmt.Errorf("primary asset '%s' is %s; resolve it before merging", primary.Name, primary.Status)
	}
	for i := range duplicates {
		dup := &duplicates[i]
		if dup.ID == primary.ID {
			continue
		}
		if dup.IsCheckedOut() {
			return fmt.Errorf("asset '%s' is checked out; check it in before merging", dup.Name)
		}
	}
	return nil
}

// fold moves one duplicate's history and content onto the primary and
// disposes of it. Runs inside the merge transaction.
func (s *Service) fold(tx *gorm.DB, primary, dup *models.Asset, actor *models.User) error {
	// Keep the loss record legible on the surviving asset.
	if dup.Status == models.StatusLost || dup.Status == models.StatusStolen {
		note := fmt.Sprintf("Merged duplicate '%s' (%s) was %s. %s",
			dup.Name, dup.Barcode, dup.Status, dup.LostStolenNotes)
		if _, err := ledger.CreateAudit(tx, primary, actor, nil, note, nil); err != nil {
			return err
		}
	}

	if err := tx.Model(&models.AssetImage{}).Where("asset_id = ?", dup.ID).
		Update("asset_id", primary.ID).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.NFCTag{}).Where("asset_id = ? AND removed_at IS NULL", dup.ID).
		Update("asset_id", primary.ID).Error; err != nil {
		return err
	}
	if err := s.deactivateCollidingTags(tx, primary.ID); err != nil {
		return err
	}

	// Ledger rows are re-owned, not recreated: a hook-skipping batch
	// update moves them without minting new history.
	if err := tx.Session(&gorm.Session{SkipHooks: true}).
		Model(&models.Transaction{}).Where("asset_id = ?", dup.ID).
		Update("asset_id", primary.ID).Error; err != nil {
		return err
	}

	mergeText(&primary.Description, dup.Description)
	mergeText(&primary.Notes, dup.Notes)
	if primary.CategoryID == nil && dup.CategoryID != nil {
		primary.CategoryID = dup.CategoryID
	}
	if primary.CurrentLocationID == nil && dup.CurrentLocationID != nil {
		primary.CurrentLocationID = dup.CurrentLocationID
	}
	if primary.PurchasePrice == nil && dup.PurchasePrice != nil {
		primary.PurchasePrice = dup.PurchasePrice
	}
	if primary.EstimatedValue == nil && dup.EstimatedValue != nil {
		primary.EstimatedValue = dup.EstimatedValue
	}
	if dup.Quantity > 0 {
		if primary.Quantity < 1 {
			primary.Quantity = 1
		}
		primary.Quantity += dup.Quantity
	}

	// The duplicate's barcode moves over only when the primary lacks
	// one; the duplicate gets a placeholder first so the uniqueness
	// constraint holds mid-transaction.
	takeBarcode := primary.Barcode == "" && dup.Barcode != ""
	freed := dup.Barcode
	placeholder := fmt.Sprintf("merged-%d-%d", dup.ID, time.Now().Unix())
	if err := tx.Model(&models.Asset{}).Where("id = ?", dup.ID).
		Update("barcode", placeholder).Error; err != nil {
		return err
	}
	dup.Barcode = placeholder
	if takeBarcode {
		primary.Barcode = freed
	}

	mergeNote := fmt.Sprintf("Merged into %s by %s", primary.Barcode, actor.DisplayName())
	mergeText(&dup.Notes, mergeNote)
	if err := tx.Model(&models.Asset{}).Where("id = ?", dup.ID).
		Update("notes", dup.Notes).Error; err != nil {
		return err
	}
	return state.TransitionAsset(tx, dup, models.StatusDisposed, "")
}

// deactivateCollidingTags keeps the earliest assignment of each
// active tag id on the asset and soft-deactivates the rest.
func (s *Service) deactivateCollidingTags(tx *gorm.DB, assetID int64) error {
	var tags []models.NFCTag
	if err := tx.Where("asset_id = ? AND removed_at IS NULL", assetID).
		Order("tag_id ASC, assigned_at ASC").Find(&tags).Error; err != nil {
		return err
	}

	seen := map[string]bool{}
	now := time.Now()
	for i := range tags {
		tag := &tags[i]
		if !seen[tag.TagID] {
			seen[tag.TagID] = true
			continue
		}
		notes := tag.Notes
		mergeNote := "Deactivated: duplicate after merge"
		if notes != "" {
			notes += "\n" + mergeNote
		} else {
			notes = mergeNote
		}
		err := tx.Model(&models.NFCTag{}).Where("id = ?", tag.ID).Updates(map[string]interface{}{
			"removed_at": now,
			"notes":      notes,
		}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func mergeText(dst *string, src string) {
	if src == "" {
		return
	}
	if *dst == "" {
		*dst = src
		return
	}
	*dst = *dst + "\n---\n" + src
}
