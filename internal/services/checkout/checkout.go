// Package checkout is the externally-callable protocol around the
// movement ledger: permission check, state check, row lock, ledger
// write, all inside one database transaction per asset.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"props-system/internal/database/models"
	"props-system/internal/events"
	"props-system/internal/services/ledger"
	"props-system/internal/services/state"
)

var (
	// ErrPermissionDenied is returned when the permission oracle
	// refuses the acting user.
	ErrPermissionDenied = errors.New("you do not have permission to perform this action")

	// ErrAssetNotFound is returned when the asset id resolves to
	// nothing.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrBackdateBeforeCreation rejects event times earlier than the
	// asset itself.
	ErrBackdateBeforeCreation = errors.New("date cannot be before the asset was created")

	// ErrBackdateWhileCheckedOut rejects backdated checkouts for an
	// asset that was already out at that date.
	ErrBackdateWhileCheckedOut = errors.New("cannot backdate a checkout for an asset that was already checked out at that date")
)

// InvalidStateError reports an operation attempted in a status that
// does not allow it.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s an asset in status '%s'", e.Op, e.Status)
}

// PermissionOracle gates the protocol operations. Role and department
// logic lives behind it.
type PermissionOracle interface {
	CanCheckout(user *models.User, asset *models.Asset) bool
	CanEdit(user *models.User, asset *models.Asset) bool
	CanDelete(user *models.User, asset *models.Asset) bool
	CanHandover(user *models.User, asset *models.Asset) bool
}

// Publisher receives movement events after commit. May be nil.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event)
}

type Service struct {
	db    *gorm.DB
	perms PermissionOracle
	pub   Publisher
}

func NewService(db *gorm.DB, perms PermissionOracle, pub Publisher) *Service {
	return &Service{db: db, perms: perms, pub: pub}
}

// lockForUpdate applies an exclusive row lock on Postgres. SQLite
// (tests) has no FOR UPDATE; its single-writer model covers the same
// check-then-act window.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *Service) loadAsset(db *gorm.DB, id int64) (*models.Asset, error) {
	var asset models.Asset
	err := db.Preload("Category.Department").
		Preload("CurrentLocation").
		Preload("CheckedOutTo").
		First(&asset, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// Checkout assigns custody of the asset to borrower.
//
// The pre-lock holder check is an early-exit fast path only;
// correctness depends on the re-check performed after the row lock is
// acquired. Losing the race surfaces as the same AlreadyCheckedOut
// error as the simple case.
func (s *Service) Checkout(ctx context.Context, assetID int64, borrower, performedBy *models.User, destination *models.Location, notes string, ts *time.Time) (*models.Transaction, error) {
	db := s.db.WithContext(ctx)

	asset, err := s.loadAsset(db, assetID)
	if err != nil {
		return nil, err
	}
	if asset.IsCheckedOut() {
		return nil, &ledger.AlreadyCheckedOutError{Holder: asset.CheckedOutTo.DisplayName()}
	}
	if !s.perms.CanCheckout(performedBy, asset) {
		return nil, ErrPermissionDenied
	}
	if asset.Status != models.StatusActive && asset.Status != models.StatusDraft {
		return nil, &InvalidStateError{Op: "check out", Status: asset.Status}
	}
	if ts != nil {
		if ts.Before(asset.CreatedAt) {
			return nil, ErrBackdateBeforeCreation
		}
		if err := s.checkHeldAt(db, assetID, *ts); err != nil {
			return nil, err
		}
	}

	var txn *models.Transaction
	err = db.Transaction(func(tx *gorm.DB) error {
		var locked models.Asset
		if err := lockForUpdate(tx).
			Preload("CurrentLocation").
			First(&locked, assetID).Error; err != nil {
			return err
		}
		// Re-check under the lock: another request may have won.
		if locked.IsCheckedOut() {
			var holder models.User
			tx.First(&holder, *locked.CheckedOutToID)
			return &ledger.AlreadyCheckedOutError{Holder: holder.DisplayName()}
		}
		// First checkout establishes where the asset lives.
		if locked.HomeLocationID == nil && locked.CurrentLocationID != nil {
			if err := tx.Model(&models.Asset{}).Where("id = ?", locked.ID).
				Update("home_location_id", *locked.CurrentLocationID).Error; err != nil {
				return err
			}
			locked.HomeLocationID = locked.CurrentLocationID
		}
		var err error
		txn, err = ledger.CreateCheckout(tx, &locked, borrower, performedBy, destination, notes, ts)
		if err != nil {
			return err
		}
		*asset = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.ActionCheckout, asset, performedBy)
	return txn, nil
}

// Checkin returns the asset to a location and frees the borrower.
func (s *Service) Checkin(ctx context.Context, assetID int64, toLocation *models.Location, performedBy *models.User, notes string, ts *time.Time) (*models.Transaction, error) {
	db := s.db.WithContext(ctx)

	asset, err := s.loadAsset(db, assetID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanCheckout(performedBy, asset) {
		return nil, ErrPermissionDenied
	}
	if !asset.IsCheckedOut() {
		return nil, ledger.ErrNotCheckedOut
	}
	if err := s.validateBackdate(asset, ts); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = db.Transaction(func(tx *gorm.DB) error {
		var locked models.Asset
		if err := lockForUpdate(tx).
			Preload("CurrentLocation").
			First(&locked, assetID).Error; err != nil {
			return err
		}
		if !locked.IsCheckedOut() {
			return ledger.ErrNotCheckedOut
		}
		var err error
		txn, err = ledger.CreateCheckin(tx, &locked, toLocation, performedBy, notes, ts)
		if err != nil {
			return err
		}
		*asset = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.ActionCheckin, asset, performedBy)
	return txn, nil
}

// Transfer moves a non-checked-out, active asset to a new location.
func (s *Service) Transfer(ctx context.Context, assetID int64, toLocation *models.Location, performedBy *models.User, notes string, ts *time.Time) (*models.Transaction, error) {
	db := s.db.WithContext(ctx)

	asset, err := s.loadAsset(db, assetID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanEdit(performedBy, asset) {
		return nil, ErrPermissionDenied
	}
	if asset.Status != models.StatusActive {
		return nil, &InvalidStateError{Op: "transfer", Status: asset.Status}
	}
	if err := s.validateBackdate(asset, ts); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = db.Transaction(func(tx *gorm.DB) error {
		var locked models.Asset
		if err := lockForUpdate(tx).
			Preload("CurrentLocation").
			First(&locked, assetID).Error; err != nil {
			return err
		}
		var err error
		txn, err = ledger.CreateTransfer(tx, &locked, toLocation, performedBy, notes, ts)
		if err != nil {
			return err
		}
		*asset = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.ActionTransfer, asset, performedBy)
	return txn, nil
}

// Relocate moves the asset while preserving custody. Used when a
// checked-out asset changes rooms with its borrower.
func (s *Service) Relocate(ctx context.Context, assetID int64, toLocation *models.Location, performedBy *models.User, notes string, ts *time.Time) (*models.Transaction, error) {
	db := s.db.WithContext(ctx)

	asset, err := s.loadAsset(db, assetID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanEdit(performedBy, asset) {
		return nil, ErrPermissionDenied
	}
	if err := s.validateBackdate(asset, ts); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err = db.Transaction(func(tx *gorm.DB) error {
		var locked models.Asset
		if err := lockForUpdate(tx).
			Preload("CurrentLocation").
			First(&locked, assetID).Error; err != nil {
			return err
		}
		var err error
		txn, err = ledger.CreateRelocate(tx, &locked, toLocation, performedBy, notes, ts)
		if err != nil {
			return err
		}
		*asset = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.ActionRelocate, asset, performedBy)
	return txn, nil
}

// Handover moves custody directly between borrowers under the same
// lock discipline as checkout.
func (s *Service) Handover(ctx context.Context, assetID int64, newBorrower, performedBy *models.User, toLocation *models.Location, notes string, ts *time.Time) ([]*models.Transaction, error) {
	db := s.db.WithContext(ctx)

	asset, err := s.loadAsset(db, assetID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanHandover(performedBy, asset) {
		return nil, ErrPermissionDenied
	}
	if err := s.validateBackdate(asset, ts); err != nil {
		return nil, err
	}

	var txns []*models.Transaction
	err = db.Transaction(func(tx *gorm.DB) error {
		var locked models.Asset
		if err := lockForUpdate(tx).
			Preload("CurrentLocation").
			Preload("CheckedOutTo").
			First(&locked, assetID).Error; err != nil {
			return err
		}
		var err error
		txns, err = ledger.CreateHandover(tx, &locked, newBorrower, performedBy, toLocation, notes, ts)
		if err != nil {
			return err
		}
		*asset = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.ActionHandover, asset, performedBy)
	return txns, nil
}

// ChangeStatus runs a permission-checked state machine transition.
// Disposal and retirement require delete rights; everything else
// requires edit rights.
func (s *Service) ChangeStatus(ctx context.Context, assetID int64, newStatus, notes string, performedBy *models.User) (*models.Asset, error) {
	db := s.db.WithContext(ctx)

	asset, err := s.loadAsset(db, assetID)
	if err != nil {
		return nil, err
	}
	allowed := s.perms.CanEdit(performedBy, asset)
	if newStatus == models.StatusDisposed || newStatus == models.StatusRetired {
		allowed = s.perms.CanDelete(performedBy, asset)
	}
	if !allowed {
		return nil, ErrPermissionDenied
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var locked models.Asset
		if err := lockForUpdate(tx).First(&locked, assetID).Error; err != nil {
			return err
		}
		if err := state.TransitionAsset(tx, &locked, newStatus, notes); err != nil {
			return err
		}
		*asset = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// checkHeldAt rejects a backdated checkout when the ledger shows the
// asset already out at that moment: the last custody row at or before
// ts being a checkout means someone held it then.
func (s *Service) checkHeldAt(db *gorm.DB, assetID int64, ts time.Time) error {
	var last models.Transaction
	err := db.Where("asset_id = ? AND action IN ? AND timestamp <= ?",
		assetID, []string{models.ActionCheckout, models.ActionCheckin}, ts).
		Order("timestamp DESC, id DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if last.Action == models.ActionCheckout {
		return ErrBackdateWhileCheckedOut
	}
	return nil
}

func (s *Service) validateBackdate(asset *models.Asset, ts *time.Time) error {
	if ts != nil && ts.Before(asset.CreatedAt) {
		return ErrBackdateBeforeCreation
	}
	return nil
}

func (s *Service) publish(ctx context.Context, action string, asset *models.Asset, actor *models.User) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ctx, events.Event{
		Action:  action,
		AssetID: asset.ID,
		Barcode: asset.Barcode,
		Asset:   asset.Name,
		Actor:   actor.DisplayName(),
		At:      time.Now(),
	})
}
