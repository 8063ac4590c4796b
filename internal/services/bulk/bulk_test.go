package bulk_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"props-system/internal/database/models"
	"props-system/internal/database/testdb"
	"props-system/internal/services/bulk"
	"props-system/internal/services/checkout"
	"props-system/internal/services/permissions"
)

type fixture struct {
	db       *gorm.DB
	svc      *bulk.Service
	admin    *models.User
	borrower *models.User
	store    *models.Location
	stage    *models.Location
	cat      *models.Category
}

func newFixture(t *testing.T) *fixture {
	db := testdb.Open(t)
	protocol := checkout.NewService(db, permissions.Oracle{}, nil)
	svc := bulk.NewService(db, protocol)

	adminRole := testdb.SeedRole(t, db, "system_admin", models.AccessLevelSystemAdmin)
	borrowerRole := testdb.SeedRole(t, db, "borrower", models.AccessLevelBorrower)
	admin := testdb.SeedUser(t, db, "alice", adminRole)
	borrower := testdb.SeedUser(t, db, "bob", borrowerRole)
	cat := testdb.SeedCategory(t, db, "Furniture", nil)
	store := testdb.SeedLocation(t, db, "Props store")
	stage := testdb.SeedLocation(t, db, "Stage left")

	return &fixture{db: db, svc: svc, admin: admin, borrower: borrower, store: store, stage: stage, cat: cat}
}

func (f *fixture) seedAssets(t *testing.T, names ...string) []*models.Asset {
	t.Helper()
	assets := make([]*models.Asset, len(names))
	for i, name := range names {
		assets[i] = testdb.SeedAsset(t, f.db, name, f.cat, f.store)
	}
	return assets
}

func ids(assets []*models.Asset) []int64 {
	out := make([]int64, len(assets))
	for i, a := range assets {
		out[i] = a.ID
	}
	return out
}

func TestBulkTransfer_SkipsCheckedOutByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assets := f.seedAssets(t, "Armchair", "Lamp", "Mirror")

	// Lamp is out with a borrower.
	require.NoError(t, f.db.Model(assets[1]).Update("checked_out_to_id", f.borrower.ID).Error)

	res, err := f.svc.Transfer(ctx, ids(assets), f.stage, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []string{"Lamp"}, res.Skipped)

	var moved int64
	require.NoError(t, f.db.Model(&models.Asset{}).
		Where("current_location_id = ?", f.stage.ID).Count(&moved).Error)
	assert.EqualValues(t, 2, moved)
}

func TestBulkTransfer_SkipsNonActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assets := f.seedAssets(t, "Armchair", "Lamp")
	require.NoError(t, f.db.Model(assets[0]).Update("status", models.StatusRetired).Error)

	res, err := f.svc.Transfer(ctx, ids(assets), f.stage, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []string{"Armchair"}, res.Skipped)
}

func TestBulkCheckout_BackfillsHomeAndSkipsHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assets := f.seedAssets(t, "Armchair", "Lamp", "Mirror")
	require.NoError(t, f.db.Model(assets[2]).Update("checked_out_to_id", f.admin.ID).Error)

	res, err := f.svc.Checkout(ctx, ids(assets), f.borrower, f.admin, "tour", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, []string{"Mirror"}, res.Skipped)

	for _, a := range assets[:2] {
		var got models.Asset
		require.NoError(t, f.db.First(&got, a.ID).Error)
		require.NotNil(t, got.HomeLocationID, "%s home backfilled", a.Name)
		assert.Equal(t, f.store.ID, *got.HomeLocationID)
		require.NotNil(t, got.CheckedOutToID)
		assert.Equal(t, f.borrower.ID, *got.CheckedOutToID)
	}
}

func TestBulkCheckout_SkippedAssetsLeftUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assets := f.seedAssets(t, "Armchair", "Lamp")
	require.NoError(t, f.db.Model(assets[0]).Update("status", models.StatusRetired).Error)
	require.NoError(t, f.db.Model(assets[1]).Update("checked_out_to_id", f.admin.ID).Error)

	res, err := f.svc.Checkout(ctx, ids(assets), f.borrower, f.admin, "", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	assert.Equal(t, []string{"Lamp"}, res.Skipped)

	for _, a := range assets {
		var got models.Asset
		require.NoError(t, f.db.First(&got, a.ID).Error)
		assert.Nil(t, got.HomeLocationID, "%s skipped, home must stay unset", a.Name)
	}

	var retired models.Asset
	require.NoError(t, f.db.First(&retired, assets[0].ID).Error)
	assert.Nil(t, retired.CheckedOutToID)
}

func TestBulkCheckin_SkipsIdleAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assets := f.seedAssets(t, "Armchair", "Lamp")
	require.NoError(t, f.db.Model(assets[0]).Update("checked_out_to_id", f.borrower.ID).Error)

	res, err := f.svc.Checkin(ctx, ids(assets), f.store, f.admin, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []string{"Lamp"}, res.Skipped)
}

func TestBulkStatusChange_PartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assets := f.seedAssets(t, "Armchair", "Lamp", "Mirror")
	// Mirror cannot retire from draft.
	require.NoError(t, f.db.Model(assets[2]).Update("status", models.StatusDraft).Error)

	count, failures, err := f.svc.StatusChange(ctx, ids(assets), models.StatusRetired, "", f.admin)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "Mirror")

	var got models.Asset
	require.NoError(t, f.db.First(&got, assets[2].ID).Error)
	assert.Equal(t, models.StatusDraft, got.Status, "failed asset untouched")
}

func TestBulkStatusChange_LostRecordsNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assets := f.seedAssets(t, "Armchair", "Lamp")

	count, failures, err := f.svc.StatusChange(ctx, ids(assets), models.StatusLost, "van broken into", f.admin)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Empty(t, failures)

	var got models.Asset
	require.NoError(t, f.db.First(&got, assets[0].ID).Error)
	assert.Equal(t, models.StatusLost, got.Status)
	assert.Equal(t, "van broken into", got.LostStolenNotes)
}

func TestBulkEdit_OnlySuppliedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assets := f.seedAssets(t, "Armchair", "Lamp")
	newCat := testdb.SeedCategory(t, f.db, "Lighting", nil)

	count, err := f.svc.Edit(ctx, ids(assets), &newCat.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var got models.Asset
	require.NoError(t, f.db.First(&got, assets[0].ID).Error)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, newCat.ID, *got.CategoryID)
	require.NotNil(t, got.CurrentLocationID)
	assert.Equal(t, f.store.ID, *got.CurrentLocationID, "location untouched")
}

func TestBulkEdit_NothingSuppliedIsANoOp(t *testing.T) {
	f := newFixture(t)
	assets := f.seedAssets(t, "Armchair")

	count, err := f.svc.Edit(context.Background(), ids(assets), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBulkEdit_InactiveLocationRejected(t *testing.T) {
	f := newFixture(t)
	assets := f.seedAssets(t, "Armchair")
	closed := testdb.SeedLocation(t, f.db, "Old warehouse")
	require.NoError(t, f.db.Model(closed).Update("is_active", false).Error)

	_, err := f.svc.Edit(context.Background(), ids(assets), nil, &closed.ID)
	assert.Error(t, err)
}
