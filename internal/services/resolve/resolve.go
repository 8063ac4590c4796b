// Package resolve turns a scanned or typed identifier into an asset.
package resolve

import (
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"props-system/internal/database/models"
)

// NotFoundError names the (truncated) input so scan feedback is
// actionable.
type NotFoundError struct {
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no asset found for '%s'", truncate(e.Input, 100))
}

// FromInput resolves an asset from a scanned code or search text.
// Tries, in order: numeric id, exact barcode (case-insensitive),
// active NFC tag id, then name match.
func FromInput(db *gorm.DB, input string) (*models.Asset, error) {
	if input == "" {
		return nil, &NotFoundError{Input: input}
	}

	if id, err := strconv.ParseInt(input, 10, 64); err == nil {
		var asset models.Asset
		if err := db.First(&asset, id).Error; err == nil {
			return &asset, nil
		}
	}

	var asset models.Asset
	err := db.Where("LOWER(barcode) = LOWER(?)", input).First(&asset).Error
	if err == nil {
		return &asset, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var tag models.NFCTag
	err = db.Where("tag_id = ? AND removed_at IS NULL", input).First(&tag).Error
	if err == nil {
		if err := db.First(&asset, tag.AssetID).Error; err != nil {
			return nil, err
		}
		return &asset, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = db.Where("LOWER(name) = LOWER(?)", input).Order("status = 'active' DESC").First(&asset).Error
	if err == nil {
		return &asset, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return nil, &NotFoundError{Input: input}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
