package models

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Asset lifecycle statuses.
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusRetired  = "retired"
	StatusDisposed = "disposed"
	StatusMissing  = "missing"
	StatusLost     = "lost"
	StatusStolen   = "stolen"
)

// Ledger action kinds.
const (
	ActionCheckout = "checkout"
	ActionCheckin  = "checkin"
	ActionTransfer = "transfer"
	ActionRelocate = "relocate"
	ActionHandover = "handover"
	ActionAudit    = "audit"
)

// Asset conditions.
const (
	ConditionExcellent = "excellent"
	ConditionGood      = "good"
	ConditionFair      = "fair"
	ConditionPoor      = "poor"
	ConditionDamaged   = "damaged"
)

var assetStatuses = map[string]bool{
	StatusDraft:    true,
	StatusActive:   true,
	StatusRetired:  true,
	StatusDisposed: true,
	StatusMissing:  true,
	StatusLost:     true,
	StatusStolen:   true,
}

// IsValidStatus reports whether s is a recognised asset status.
func IsValidStatus(s string) bool {
	return assetStatuses[s]
}

// ErrTransactionImmutable is returned by the ledger row hooks when a
// code path attempts to rewrite history.
var ErrTransactionImmutable = errors.New("transactions are immutable and cannot be modified or deleted")

type Category struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"size:100;not null"`
	DepartmentID *int64
	Department   *Department `gorm:"foreignKey:DepartmentID"`
	IsActive     bool        `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Location struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:100;not null"`
	Description string `gorm:"type:text"`
	IsActive    bool   `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Asset is an individual trackable item. The denormalised custody
// fields (CheckedOutToID, CurrentLocationID) are a materialised view
// of the transaction log and are written only by the ledger service.
type Asset struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Barcode     string `gorm:"size:50;uniqueIndex"`
	Name        string `gorm:"size:200;not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:20;default:draft;index:idx_asset_status"`
	Condition   string `gorm:"size:20;default:good"`
	Quantity    int    `gorm:"default:1"`

	CategoryID        *int64
	Category          *Category `gorm:"foreignKey:CategoryID"`
	CurrentLocationID *int64
	CurrentLocation   *Location `gorm:"foreignKey:CurrentLocationID"`
	HomeLocationID    *int64
	HomeLocation      *Location `gorm:"foreignKey:HomeLocationID;constraint:OnDelete:SET NULL"`
	CheckedOutToID    *int64
	CheckedOutTo      *User `gorm:"foreignKey:CheckedOutToID;constraint:OnDelete:SET NULL"`

	Notes           string `gorm:"type:text"`
	LostStolenNotes string `gorm:"type:text"`
	PurchasePrice   *decimal.Decimal `gorm:"type:numeric(10,2)"`
	EstimatedValue  *decimal.Decimal `gorm:"type:numeric(10,2)"`

	CreatedByID *int64
	CreatedBy   *User `gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Images  []AssetImage  `gorm:"foreignKey:AssetID"`
	NFCTags []NFCTag      `gorm:"foreignKey:AssetID"`
	History []Transaction `gorm:"foreignKey:AssetID"`
}

// IsCheckedOut reports whether the asset is currently out on loan.
func (a *Asset) IsCheckedOut() bool {
	return a.CheckedOutToID != nil
}

// BeforeCreate assigns a barcode when the caller did not supply one.
func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.Barcode == "" {
		a.Barcode = GenerateBarcode()
	}
	return nil
}

// GenerateBarcode returns a new external identifier of the form
// PR-XXXXXXXXXX. Collisions are caught by the unique index.
func GenerateBarcode() string {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("PR-%010d", time.Now().UnixNano()%1e10)
	}
	return "PR-" + strings.ToUpper(hex.EncodeToString(buf))
}

type AssetImage struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	AssetID   int64 `gorm:"index;not null"`
	FilePath  string `gorm:"size:255"`
	Caption   string `gorm:"size:255"`
	IsPrimary bool
	CreatedAt time.Time
}

// NFCTag is a physical tag identifier attached to an asset. Tags are
// never hard-deleted; RemovedAt marks deactivation.
type NFCTag struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	AssetID    int64  `gorm:"index;not null"`
	TagID      string `gorm:"size:100;index;not null"`
	AssignedAt time.Time
	RemovedAt  *time.Time
	Notes      string `gorm:"type:text"`
}

// IsActive reports whether the tag is currently assigned.
func (t *NFCTag) IsActive() bool {
	return t.RemovedAt == nil
}

// Transaction is one immutable row of the movement ledger.
//
// Referenced entities use nullify-on-delete foreign keys, and the
// *Name fields snapshot their display names at write time, so the
// audit trail stays legible after a user or location is removed.
// Timestamp is the logical event time and may be backdated;
// CreatedAt always records actual insertion time.
type Transaction struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	AssetID *int64 `gorm:"index:idx_txn_asset"`
	Asset   *Asset `gorm:"foreignKey:AssetID;constraint:OnDelete:SET NULL"`
	Action  string `gorm:"size:20;not null;index:idx_txn_action"`

	UserID   *int64
	User     *User `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL"`
	UserName string `gorm:"size:200"`

	BorrowerID   *int64
	Borrower     *User `gorm:"foreignKey:BorrowerID;constraint:OnDelete:SET NULL"`
	BorrowerName string `gorm:"size:200"`

	FromLocationID   *int64
	FromLocation     *Location `gorm:"foreignKey:FromLocationID;constraint:OnDelete:SET NULL"`
	FromLocationName string    `gorm:"size:100"`
	ToLocationID     *int64
	ToLocation       *Location `gorm:"foreignKey:ToLocationID;constraint:OnDelete:SET NULL"`
	ToLocationName   string    `gorm:"size:100"`

	AssetName string `gorm:"size:200"`
	Quantity  int    `gorm:"default:1"`
	Notes     string `gorm:"type:text"`

	Timestamp   time.Time `gorm:"index:idx_txn_timestamp"`
	IsBackdated bool      `gorm:"index:idx_txn_backdated"`
	CreatedAt   time.Time
}

// BeforeUpdate blocks every instance-level rewrite of a ledger row.
// The merge service re-owns rows with a hook-skipping batch update,
// which is the only sanctioned exception.
func (t *Transaction) BeforeUpdate(tx *gorm.DB) error {
	return ErrTransactionImmutable
}

// BeforeDelete blocks deletion of ledger rows.
func (t *Transaction) BeforeDelete(tx *gorm.DB) error {
	return ErrTransactionImmutable
}

// BeforeCreate fills the logical timestamp and display snapshots.
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if t.Quantity <= 0 {
		t.Quantity = 1
	}
	if t.Asset != nil && t.AssetName == "" {
		t.AssetName = t.Asset.Name
	}
	if t.User != nil && t.UserName == "" {
		t.UserName = t.User.DisplayName()
	}
	if t.Borrower != nil && t.BorrowerName == "" {
		t.BorrowerName = t.Borrower.DisplayName()
	}
	if t.FromLocation != nil && t.FromLocationName == "" {
		t.FromLocationName = t.FromLocation.Name
	}
	if t.ToLocation != nil && t.ToLocationName == "" {
		t.ToLocationName = t.ToLocation.Name
	}
	return nil
}
