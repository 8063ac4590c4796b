package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"props-system/internal/database/models"
	"props-system/internal/database/testdb"
	"props-system/internal/services/ledger"
)

type fixture struct {
	db       *gorm.DB
	actor    *models.User
	borrower *models.User
	store    *models.Location
	stage    *models.Location
	asset    *models.Asset
}

func newFixture(t *testing.T) *fixture {
	db := testdb.Open(t)
	adminRole := testdb.SeedRole(t, db, "system_admin", models.AccessLevelSystemAdmin)
	borrowerRole := testdb.SeedRole(t, db, "borrower", models.AccessLevelBorrower)
	actor := testdb.SeedUser(t, db, "alice", adminRole)
	actor.Firstname, actor.Lastname = "Alice", "Armitage"
	require.NoError(t, db.Model(actor).Updates(map[string]interface{}{"firstname": "Alice", "lastname": "Armitage"}).Error)
	borrower := testdb.SeedUser(t, db, "bob", borrowerRole)
	cat := testdb.SeedCategory(t, db, "Furniture", nil)
	store := testdb.SeedLocation(t, db, "Props store")
	stage := testdb.SeedLocation(t, db, "Stage left")
	asset := testdb.SeedAsset(t, db, "Chaise longue", cat, store)
	return &fixture{db: db, actor: actor, borrower: borrower, store: store, stage: stage, asset: asset}
}

func (f *fixture) reload(t *testing.T) *models.Asset {
	t.Helper()
	var got models.Asset
	require.NoError(t, f.db.First(&got, f.asset.ID).Error)
	return &got
}

func TestCreateCheckout_WritesRowAndCustody(t *testing.T) {
	f := newFixture(t)

	txn, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "act two", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ActionCheckout, txn.Action)
	assert.Equal(t, "Chaise longue", txn.AssetName)
	assert.Equal(t, "Alice Armitage", txn.UserName)
	assert.Equal(t, "bob", txn.BorrowerName)
	assert.Equal(t, "Props store", txn.FromLocationName)
	assert.Equal(t, "Stage left", txn.ToLocationName)
	assert.False(t, txn.IsBackdated)

	got := f.reload(t)
	require.NotNil(t, got.CheckedOutToID)
	assert.Equal(t, f.borrower.ID, *got.CheckedOutToID)
	require.NotNil(t, got.CurrentLocationID)
	assert.Equal(t, f.stage.ID, *got.CurrentLocationID)
}

func TestCreateCheckout_RejectsHeldAsset(t *testing.T) {
	f := newFixture(t)
	_, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)

	_, err = ledger.CreateCheckout(f.db, f.asset, f.actor, f.actor, f.stage, "", nil)
	var held *ledger.AlreadyCheckedOutError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "bob", held.Holder)
	assert.Contains(t, err.Error(), "bob")
}

func TestCreateCheckin_ClearsBorrower(t *testing.T) {
	f := newFixture(t)
	_, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)

	txn, err := ledger.CreateCheckin(f.db, f.asset, f.store, f.actor, "back on the rack", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCheckin, txn.Action)
	assert.Equal(t, "Stage left", txn.FromLocationName)
	assert.Equal(t, "Props store", txn.ToLocationName)

	got := f.reload(t)
	assert.Nil(t, got.CheckedOutToID)
	require.NotNil(t, got.CurrentLocationID)
	assert.Equal(t, f.store.ID, *got.CurrentLocationID)
}

func TestNilLocationReturnsTypedError(t *testing.T) {
	f := newFixture(t)
	_, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)

	_, err = ledger.CreateCheckin(f.db, f.asset, nil, f.actor, "", nil)
	assert.ErrorIs(t, err, ledger.ErrLocationRequired)

	_, err = ledger.CreateTransfer(f.db, f.asset, nil, f.actor, "", nil)
	assert.ErrorIs(t, err, ledger.ErrLocationRequired)

	// Nothing was appended past the checkout.
	var count int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Where("asset_id = ?", f.asset.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateTransfer_Guards(t *testing.T) {
	f := newFixture(t)

	_, err := ledger.CreateTransfer(f.db, f.asset, f.store, f.actor, "", nil)
	assert.ErrorIs(t, err, ledger.ErrSameLocation)

	_, err = ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)
	_, err = ledger.CreateTransfer(f.db, f.asset, f.store, f.actor, "", nil)
	var held *ledger.AlreadyCheckedOutError
	assert.ErrorAs(t, err, &held)
}

func TestCreateRelocate_MovesHomeWithCheckedOutAsset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(f.asset).Update("home_location_id", f.store.ID).Error)
	f.asset.HomeLocationID = &f.store.ID
	_, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)

	annex := testdb.SeedLocation(t, f.db, "Annex")
	_, err = ledger.CreateRelocate(f.db, f.asset, annex, f.actor, "touring", nil)
	require.NoError(t, err)

	got := f.reload(t)
	// Custody unchanged, both locations moved.
	require.NotNil(t, got.CheckedOutToID)
	assert.Equal(t, f.borrower.ID, *got.CheckedOutToID)
	require.NotNil(t, got.CurrentLocationID)
	assert.Equal(t, annex.ID, *got.CurrentLocationID)
	require.NotNil(t, got.HomeLocationID)
	assert.Equal(t, annex.ID, *got.HomeLocationID)
}

func TestCreateRelocate_LeavesHomeForIdleAsset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(f.asset).Update("home_location_id", f.store.ID).Error)
	f.asset.HomeLocationID = &f.store.ID

	_, err := ledger.CreateRelocate(f.db, f.asset, f.stage, f.actor, "", nil)
	require.NoError(t, err)

	got := f.reload(t)
	require.NotNil(t, got.HomeLocationID)
	assert.Equal(t, f.store.ID, *got.HomeLocationID)
	require.NotNil(t, got.CurrentLocationID)
	assert.Equal(t, f.stage.ID, *got.CurrentLocationID)
}

func TestCreateHandover_WritesCheckinThenCheckout(t *testing.T) {
	f := newFixture(t)
	_, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)

	carolRole := testdb.SeedRole(t, f.db, "member", models.AccessLevelMember)
	carol := testdb.SeedUser(t, f.db, "carol", carolRole)

	txns, err := ledger.CreateHandover(f.db, f.asset, carol, f.actor, nil, "scene change", nil)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, models.ActionCheckin, txns[0].Action)
	assert.Equal(t, models.ActionCheckout, txns[1].Action)
	assert.Equal(t, "carol", txns[1].BorrowerName)
	for _, txn := range txns {
		assert.Contains(t, txn.Notes, "Handover from bob to carol.")
		assert.Contains(t, txn.Notes, "scene change")
	}

	got := f.reload(t)
	require.NotNil(t, got.CheckedOutToID)
	assert.Equal(t, carol.ID, *got.CheckedOutToID)
}

func TestCreateHandover_Guards(t *testing.T) {
	f := newFixture(t)

	_, err := ledger.CreateHandover(f.db, f.asset, f.borrower, f.actor, nil, "", nil)
	assert.ErrorIs(t, err, ledger.ErrNotCheckedOut)

	_, err = ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)
	_, err = ledger.CreateHandover(f.db, f.asset, f.borrower, f.actor, nil, "", nil)
	assert.ErrorIs(t, err, ledger.ErrSameBorrower)
}

func TestBackdating(t *testing.T) {
	f := newFixture(t)

	future := time.Now().Add(time.Hour)
	_, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", &future)
	assert.ErrorIs(t, err, ledger.ErrFutureTimestamp)

	past := time.Now().Add(-48 * time.Hour)
	txn, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", &past)
	require.NoError(t, err)
	assert.True(t, txn.IsBackdated)
	assert.WithinDuration(t, past, txn.Timestamp, time.Second)
	// CreatedAt records the actual insertion time regardless.
	assert.WithinDuration(t, time.Now(), txn.CreatedAt, time.Minute)
}

func TestTransactionImmutability(t *testing.T) {
	f := newFixture(t)
	txn, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)

	err = f.db.Model(txn).Update("notes", "rewritten").Error
	assert.ErrorIs(t, err, models.ErrTransactionImmutable)

	err = f.db.Delete(txn).Error
	assert.ErrorIs(t, err, models.ErrTransactionImmutable)

	var count int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestReplay_MatchesDenormalisedFields(t *testing.T) {
	f := newFixture(t)

	_, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)
	_, err = ledger.CreateCheckin(f.db, f.asset, f.store, f.actor, "", nil)
	require.NoError(t, err)
	_, err = ledger.CreateTransfer(f.db, f.asset, f.stage, f.actor, "", nil)
	require.NoError(t, err)
	_, err = ledger.CreateCheckout(f.db, f.asset, f.actor, f.actor, f.store, "", nil)
	require.NoError(t, err)
	_, err = ledger.CreateAudit(f.db, f.asset, f.actor, f.store, "sighted", nil)
	require.NoError(t, err)

	st, err := ledger.Replay(f.db, f.asset.ID)
	require.NoError(t, err)

	got := f.reload(t)
	assert.Equal(t, got.CheckedOutToID, st.CheckedOutToID)
	assert.Equal(t, got.CurrentLocationID, st.CurrentLocationID)
	require.NotNil(t, st.CheckedOutToID)
	assert.Equal(t, f.actor.ID, *st.CheckedOutToID)
}

func TestReplay_BackdatedRowsSortByLogicalTime(t *testing.T) {
	f := newFixture(t)

	// Live checkout now, then a backdated transfer from before it. The
	// replayed location must come from the checkout, which is logically
	// later.
	_, err := ledger.CreateCheckout(f.db, f.asset, f.borrower, f.actor, f.stage, "", nil)
	require.NoError(t, err)
	_, err = ledger.CreateCheckin(f.db, f.asset, f.store, f.actor, "", nil)
	require.NoError(t, err)

	past := time.Now().Add(-24 * time.Hour)
	annex := testdb.SeedLocation(t, f.db, "Annex")
	_, err = ledger.CreateTransfer(f.db, f.asset, annex, f.actor, "", &past)
	require.NoError(t, err)

	st, err := ledger.Replay(f.db, f.asset.ID)
	require.NoError(t, err)
	assert.Nil(t, st.CheckedOutToID)
	require.NotNil(t, st.CurrentLocationID)
	assert.Equal(t, f.store.ID, *st.CurrentLocationID)
}
