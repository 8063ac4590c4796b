// Package state implements the asset lifecycle state machine.
//
// Every status mutation in the system goes through ValidateTransition
// or TransitionAsset; nothing else writes Asset.Status.
package state

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"props-system/internal/database/models"
)

// ValidTransitions maps a status to the statuses reachable from it.
// Lost and stolen assets cannot go straight to retired: the operator
// has to either recover the asset (active) or dispose of it.
// Disposed is terminal.
var ValidTransitions = map[string][]string{
	models.StatusDraft:    {models.StatusActive, models.StatusDisposed},
	models.StatusActive:   {models.StatusRetired, models.StatusMissing, models.StatusLost, models.StatusStolen, models.StatusDisposed},
	models.StatusRetired:  {models.StatusActive, models.StatusDisposed},
	models.StatusMissing:  {models.StatusActive, models.StatusDisposed},
	models.StatusLost:     {models.StatusActive, models.StatusDisposed},
	models.StatusStolen:   {models.StatusActive, models.StatusDisposed},
	models.StatusDisposed: {},
}

// InvalidStatusError reports a status value outside the known set.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("'%s' is not a valid status", e.Status)
}

// IllegalTransitionError reports a transition outside the table,
// naming the current status and its allowed destinations.
type IllegalTransitionError struct {
	From    string
	To      string
	Allowed []string
}

func (e *IllegalTransitionError) Error() string {
	allowed := strings.Join(e.Allowed, ", ")
	if allowed == "" {
		allowed = "none"
	}
	return fmt.Sprintf("cannot transition from '%s' to '%s'; allowed transitions: %s", e.From, e.To, allowed)
}

// AssetCheckedOutError reports a retire/dispose attempt on an asset
// that is still on loan.
type AssetCheckedOutError struct {
	Target string
}

func (e *AssetCheckedOutError) Error() string {
	return fmt.Sprintf("cannot change status to '%s' while the asset is checked out; check it in first", e.Target)
}

// MissingJustificationError reports a lost/stolen transition without
// the mandatory circumstances notes.
type MissingJustificationError struct {
	Target string
}

func (e *MissingJustificationError) Error() string {
	return fmt.Sprintf("notes are required when marking an asset as '%s'; please provide details about the circumstances", e.Target)
}

// MissingFieldsError reports a promotion out of draft without the
// fields every non-draft asset must carry.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s required for non-draft assets", strings.Join(e.Fields, " and "))
}

// CanTransition reports whether the table permits from -> to.
func CanTransition(from, to string) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks that moving asset to newStatus is legal.
// notes is the justification text that accompanies the request; it is
// mandatory for lost/stolen targets (the asset's stored
// LostStolenNotes also satisfies the requirement).
//
// A no-op transition (newStatus == current) is always legal.
func ValidateTransition(asset *models.Asset, newStatus, notes string) error {
	if newStatus == asset.Status {
		return nil
	}

	if !models.IsValidStatus(newStatus) {
		return &InvalidStatusError{Status: newStatus}
	}

	if !CanTransition(asset.Status, newStatus) {
		return &IllegalTransitionError{
			From:    asset.Status,
			To:      newStatus,
			Allowed: ValidTransitions[asset.Status],
		}
	}

	// Retire/dispose require the asset back in hand. Lost/stolen are
	// exempt: the asset being out of physical control is exactly what
	// is being recorded.
	if (newStatus == models.StatusRetired || newStatus == models.StatusDisposed) && asset.IsCheckedOut() {
		return &AssetCheckedOutError{Target: newStatus}
	}

	if (newStatus == models.StatusLost || newStatus == models.StatusStolen) && notes == "" && asset.LostStolenNotes == "" {
		return &MissingJustificationError{Target: newStatus}
	}

	// Every non-draft asset carries a category and a location.
	// Disposal is exempt so an incomplete draft can still be thrown
	// away.
	if newStatus != models.StatusDraft && newStatus != models.StatusDisposed {
		var missing []string
		if asset.CategoryID == nil {
			missing = append(missing, "category")
		}
		if asset.CurrentLocationID == nil {
			missing = append(missing, "location")
		}
		if len(missing) > 0 {
			return &MissingFieldsError{Fields: missing}
		}
	}

	return nil
}

// TransitionAsset validates and persists a status change in db.
// Either the full validate+persist succeeds or the asset is left
// untouched.
func TransitionAsset(db *gorm.DB, asset *models.Asset, newStatus, notes string) error {
	if err := ValidateTransition(asset, newStatus, notes); err != nil {
		return err
	}
	if newStatus == asset.Status {
		return nil
	}

	updates := map[string]interface{}{"status": newStatus}

	if newStatus == models.StatusLost || newStatus == models.StatusStolen {
		if notes != "" {
			asset.LostStolenNotes = notes
			updates["lost_stolen_notes"] = notes
		}
		// A checked-out asset marked lost/stolen keeps its borrower,
		// but its location snaps to the last checkout destination —
		// the last place it was known to be.
		if asset.IsCheckedOut() {
			if loc := lastCheckoutDestination(db, asset.ID); loc != nil {
				asset.CurrentLocationID = loc
				updates["current_location_id"] = *loc
			}
		}
	}

	if err := db.Model(&models.Asset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
		return err
	}
	asset.Status = newStatus
	asset.UpdatedAt = time.Now()
	return nil
}

func lastCheckoutDestination(db *gorm.DB, assetID int64) *int64 {
	var txn models.Transaction
	err := db.Where("asset_id = ? AND action = ?", assetID, models.ActionCheckout).
		Order("timestamp DESC").
		First(&txn).Error
	if err != nil || txn.ToLocationID == nil {
		return nil
	}
	return txn.ToLocationID
}
