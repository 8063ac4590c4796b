// Package ledger writes the append-only movement log and is the only
// writer of the denormalised custody fields on Asset.
//
// Every operation appends Transaction row(s) and updates the asset
// inside the caller's *gorm.DB, so callers decide the transaction
// boundary (the checkout service wraps each call in a locked
// database transaction).
package ledger

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"props-system/internal/database/models"
)

var (
	// ErrFutureTimestamp rejects backdating into the future rather
	// than silently treating it as "not backdated".
	ErrFutureTimestamp = errors.New("backdated timestamp cannot be in the future")

	// ErrSameLocation rejects a transfer to the location the asset is
	// already at.
	ErrSameLocation = errors.New("asset is already at this location")

	// ErrSameBorrower rejects a handover to the current borrower.
	ErrSameBorrower = errors.New("asset is already checked out to this person")

	// ErrNotCheckedOut rejects a checkin/handover on an asset nobody
	// holds.
	ErrNotCheckedOut = errors.New("asset is not checked out")

	// ErrLocationRequired rejects a checkin or transfer with no
	// destination.
	ErrLocationRequired = errors.New("a destination location is required")
)

// AlreadyCheckedOutError names the current holder so the caller can
// render an actionable message.
type AlreadyCheckedOutError struct {
	Holder string
}

func (e *AlreadyCheckedOutError) Error() string {
	if e.Holder == "" {
		return "asset is already checked out"
	}
	return fmt.Sprintf("asset is already checked out to %s", e.Holder)
}

// backdate validates an optional explicit event time and returns the
// logical timestamp plus the backdated flag.
func backdate(ts *time.Time) (time.Time, bool, error) {
	if ts == nil {
		return time.Now(), false, nil
	}
	if ts.After(time.Now()) {
		return time.Time{}, false, ErrFutureTimestamp
	}
	return *ts, true, nil
}

// CreateCheckout records custody passing to borrower. The caller must
// hold the asset row lock; this re-checks the denormalised holder as
// a last line of defence.
func CreateCheckout(db *gorm.DB, asset *models.Asset, borrower, performedBy *models.User, destination *models.Location, notes string, ts *time.Time) (*models.Transaction, error) {
	if asset.IsCheckedOut() {
		return nil, &AlreadyCheckedOutError{Holder: holderName(db, asset)}
	}
	logical, backdated, err := backdate(ts)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		AssetID:      &asset.ID,
		Asset:        asset,
		Action:       models.ActionCheckout,
		User:         performedBy,
		Borrower:     borrower,
		FromLocation: asset.CurrentLocation,
		ToLocation:   destination,
		Notes:        notes,
		Quantity:     asset.Quantity,
		Timestamp:    logical,
		IsBackdated:  backdated,
	}
	fillIDs(txn, performedBy, borrower, asset.CurrentLocationID, locID(destination))
	if err := db.Omit(clause.Associations).Create(txn).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"checked_out_to_id": borrower.ID}
	asset.CheckedOutToID = &borrower.ID
	asset.CheckedOutTo = borrower
	if destination != nil {
		updates["current_location_id"] = destination.ID
		asset.CurrentLocationID = &destination.ID
		asset.CurrentLocation = destination
	}
	if err := db.Model(&models.Asset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// CreateCheckin records the asset returning to a location and clears
// the borrower.
func CreateCheckin(db *gorm.DB, asset *models.Asset, toLocation *models.Location, performedBy *models.User, notes string, ts *time.Time) (*models.Transaction, error) {
	if toLocation == nil {
		return nil, ErrLocationRequired
	}
	logical, backdated, err := backdate(ts)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		AssetID:      &asset.ID,
		Asset:        asset,
		Action:       models.ActionCheckin,
		User:         performedBy,
		FromLocation: asset.CurrentLocation,
		ToLocation:   toLocation,
		Notes:        notes,
		Quantity:     asset.Quantity,
		Timestamp:    logical,
		IsBackdated:  backdated,
	}
	fillIDs(txn, performedBy, nil, asset.CurrentLocationID, locID(toLocation))
	if err := db.Omit(clause.Associations).Create(txn).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"checked_out_to_id":   nil,
		"current_location_id": toLocation.ID,
	}
	if err := db.Model(&models.Asset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	asset.CheckedOutToID = nil
	asset.CheckedOutTo = nil
	asset.CurrentLocationID = &toLocation.ID
	asset.CurrentLocation = toLocation
	return txn, nil
}

// CreateTransfer moves a non-checked-out asset between locations.
func CreateTransfer(db *gorm.DB, asset *models.Asset, toLocation *models.Location, performedBy *models.User, notes string, ts *time.Time) (*models.Transaction, error) {
	if toLocation == nil {
		return nil, ErrLocationRequired
	}
	if asset.IsCheckedOut() {
		return nil, &AlreadyCheckedOutError{Holder: holderName(db, asset)}
	}
	if asset.CurrentLocationID != nil && *asset.CurrentLocationID == toLocation.ID {
		return nil, ErrSameLocation
	}
	logical, backdated, err := backdate(ts)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		AssetID:      &asset.ID,
		Asset:        asset,
		Action:       models.ActionTransfer,
		User:         performedBy,
		FromLocation: asset.CurrentLocation,
		ToLocation:   toLocation,
		Notes:        notes,
		Quantity:     asset.Quantity,
		Timestamp:    logical,
		IsBackdated:  backdated,
	}
	fillIDs(txn, performedBy, nil, asset.CurrentLocationID, &toLocation.ID)
	if err := db.Omit(clause.Associations).Create(txn).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.Asset{}).Where("id = ?", asset.ID).
		Update("current_location_id", toLocation.ID).Error; err != nil {
		return nil, err
	}
	asset.CurrentLocationID = &toLocation.ID
	asset.CurrentLocation = toLocation
	return txn, nil
}

// CreateRelocate moves an asset without touching custody. For a
// checked-out asset the home location moves with it, so the asset
// returns to the new place when checked in.
func CreateRelocate(db *gorm.DB, asset *models.Asset, toLocation *models.Location, performedBy *models.User, notes string, ts *time.Time) (*models.Transaction, error) {
	logical, backdated, err := backdate(ts)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		AssetID:      &asset.ID,
		Asset:        asset,
		Action:       models.ActionRelocate,
		User:         performedBy,
		FromLocation: asset.CurrentLocation,
		ToLocation:   toLocation,
		Notes:        notes,
		Quantity:     asset.Quantity,
		Timestamp:    logical,
		IsBackdated:  backdated,
	}
	fillIDs(txn, performedBy, nil, asset.CurrentLocationID, &toLocation.ID)
	if err := db.Omit(clause.Associations).Create(txn).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"current_location_id": toLocation.ID}
	if asset.IsCheckedOut() {
		updates["home_location_id"] = toLocation.ID
		asset.HomeLocationID = &toLocation.ID
		asset.HomeLocation = toLocation
	}
	if err := db.Model(&models.Asset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	asset.CurrentLocationID = &toLocation.ID
	asset.CurrentLocation = toLocation
	return txn, nil
}

// CreateHandover passes custody directly from the current borrower to
// newBorrower. It writes two ledger rows — a checkin for the implicit
// return, then a checkout to the new borrower — so the audit trail
// shows the full custody chain instead of a silent reassignment.
func CreateHandover(db *gorm.DB, asset *models.Asset, newBorrower, performedBy *models.User, toLocation *models.Location, notes string, ts *time.Time) ([]*models.Transaction, error) {
	if !asset.IsCheckedOut() {
		return nil, ErrNotCheckedOut
	}
	if *asset.CheckedOutToID == newBorrower.ID {
		return nil, ErrSameBorrower
	}
	if asset.Status == models.StatusLost || asset.Status == models.StatusStolen {
		return nil, fmt.Errorf("cannot hand over a %s asset; recover the asset first", asset.Status)
	}
	logical, backdated, err := backdate(ts)
	if err != nil {
		return nil, err
	}

	oldHolder := holderName(db, asset)
	loc := toLocation
	if loc == nil {
		loc = asset.CurrentLocation
	}
	chain := fmt.Sprintf("Handover from %s to %s.", oldHolder, newBorrower.DisplayName())
	if notes != "" {
		chain += " " + notes
	}

	checkin := &models.Transaction{
		AssetID:      &asset.ID,
		Asset:        asset,
		Action:       models.ActionCheckin,
		User:         performedBy,
		FromLocation: asset.CurrentLocation,
		ToLocation:   loc,
		Notes:        chain,
		Quantity:     asset.Quantity,
		Timestamp:    logical,
		IsBackdated:  backdated,
	}
	fillIDs(checkin, performedBy, nil, asset.CurrentLocationID, locID(loc))
	if err := db.Omit(clause.Associations).Create(checkin).Error; err != nil {
		return nil, err
	}

	checkout := &models.Transaction{
		AssetID:      &asset.ID,
		Asset:        asset,
		Action:       models.ActionCheckout,
		User:         performedBy,
		Borrower:     newBorrower,
		FromLocation: loc,
		ToLocation:   loc,
		Notes:        chain,
		Quantity:     asset.Quantity,
		Timestamp:    logical,
		IsBackdated:  backdated,
	}
	fillIDs(checkout, performedBy, newBorrower, locID(loc), locID(loc))
	if err := db.Omit(clause.Associations).Create(checkout).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"checked_out_to_id": newBorrower.ID}
	asset.CheckedOutToID = &newBorrower.ID
	asset.CheckedOutTo = newBorrower
	if toLocation != nil {
		updates["current_location_id"] = toLocation.ID
		asset.CurrentLocationID = &toLocation.ID
		asset.CurrentLocation = toLocation
	}
	if err := db.Model(&models.Asset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return []*models.Transaction{checkin, checkout}, nil
}

// CreateAudit records a non-movement audit event (stocktake sighting,
// merge notes). Audit rows never touch the denormalised fields.
func CreateAudit(db *gorm.DB, asset *models.Asset, performedBy *models.User, location *models.Location, notes string, ts *time.Time) (*models.Transaction, error) {
	logical, backdated, err := backdate(ts)
	if err != nil {
		return nil, err
	}
	txn := &models.Transaction{
		AssetID:     &asset.ID,
		Asset:       asset,
		Action:      models.ActionAudit,
		User:        performedBy,
		ToLocation:  location,
		Notes:       notes,
		Quantity:    asset.Quantity,
		Timestamp:   logical,
		IsBackdated: backdated,
	}
	fillIDs(txn, performedBy, nil, nil, locID(location))
	if err := db.Omit(clause.Associations).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

// ReplayState is the custody view reconstructed from the log.
type ReplayState struct {
	CheckedOutToID    *int64
	CurrentLocationID *int64
}

// Replay folds the asset's full history in logical-timestamp order
// and returns the holder/location the log implies. The result must
// always match the denormalised fields on the asset row.
func Replay(db *gorm.DB, assetID int64) (*ReplayState, error) {
	var txns []models.Transaction
	err := db.Where("asset_id = ?", assetID).
		Order("timestamp ASC, id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}

	st := &ReplayState{}
	for _, txn := range txns {
		switch txn.Action {
		case models.ActionCheckout:
			st.CheckedOutToID = txn.BorrowerID
			if txn.ToLocationID != nil {
				st.CurrentLocationID = txn.ToLocationID
			}
		case models.ActionCheckin:
			st.CheckedOutToID = nil
			if txn.ToLocationID != nil {
				st.CurrentLocationID = txn.ToLocationID
			}
		case models.ActionTransfer, models.ActionRelocate:
			if txn.ToLocationID != nil {
				st.CurrentLocationID = txn.ToLocationID
			}
		}
		// audit rows carry no custody effect
	}
	return st, nil
}

func holderName(db *gorm.DB, asset *models.Asset) string {
	if asset.CheckedOutTo != nil {
		return asset.CheckedOutTo.DisplayName()
	}
	if asset.CheckedOutToID == nil {
		return ""
	}
	var u models.User
	if err := db.First(&u, *asset.CheckedOutToID).Error; err != nil {
		return ""
	}
	return u.DisplayName()
}

func locID(l *models.Location) *int64 {
	if l == nil {
		return nil
	}
	return &l.ID
}

func fillIDs(txn *models.Transaction, user, borrower *models.User, from, to *int64) {
	if user != nil {
		txn.UserID = &user.ID
	}
	if borrower != nil {
		txn.BorrowerID = &borrower.ID
	}
	txn.FromLocationID = from
	txn.ToLocationID = to
}
