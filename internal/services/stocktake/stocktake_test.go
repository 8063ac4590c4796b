package stocktake_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"props-system/internal/database/models"
	"props-system/internal/database/testdb"
	"props-system/internal/services/stocktake"
)

func TestRecordSighting_WritesAuditWithoutMovingCustody(t *testing.T) {
	db := testdb.Open(t)
	svc := stocktake.NewService(db)
	role := testdb.SeedRole(t, db, "member", models.AccessLevelMember)
	actor := testdb.SeedUser(t, db, "alice", role)
	cat := testdb.SeedCategory(t, db, "Furniture", nil)
	loc := testdb.SeedLocation(t, db, "Props store")
	asset := testdb.SeedAsset(t, db, "Chaise longue", cat, loc)

	txn, err := svc.RecordSighting(context.Background(), asset, loc, actor, "shelf 3")
	require.NoError(t, err)
	assert.Equal(t, models.ActionAudit, txn.Action)
	assert.Contains(t, txn.Notes, "sighted at Props store")
	assert.Contains(t, txn.Notes, "shelf 3")

	var got models.Asset
	require.NoError(t, db.First(&got, asset.ID).Error)
	assert.Nil(t, got.CheckedOutToID)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestMarkUnseenMissing(t *testing.T) {
	db := testdb.Open(t)
	svc := stocktake.NewService(db)
	role := testdb.SeedRole(t, db, "member", models.AccessLevelMember)
	actor := testdb.SeedUser(t, db, "alice", role)
	borrowerRole := testdb.SeedRole(t, db, "borrower", models.AccessLevelBorrower)
	borrower := testdb.SeedUser(t, db, "bob", borrowerRole)
	cat := testdb.SeedCategory(t, db, "Furniture", nil)
	loc := testdb.SeedLocation(t, db, "Props store")
	elsewhere := testdb.SeedLocation(t, db, "Stage left")

	sighted := testdb.SeedAsset(t, db, "Armchair", cat, loc)
	unseen := testdb.SeedAsset(t, db, "Lamp", cat, loc)
	held := testdb.SeedAsset(t, db, "Mirror", cat, loc)
	other := testdb.SeedAsset(t, db, "Rug", cat, elsewhere)
	require.NoError(t, db.Model(held).Update("checked_out_to_id", borrower.ID).Error)

	since := time.Now().Add(-time.Minute)
	_, err := svc.RecordSighting(context.Background(), sighted, loc, actor, "")
	require.NoError(t, err)

	count, failures, err := svc.MarkUnseenMissing(context.Background(), loc.ID, since, actor)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, failures)

	statuses := map[string]string{}
	for _, a := range []*models.Asset{sighted, unseen, held, other} {
		var got models.Asset
		require.NoError(t, db.First(&got, a.ID).Error)
		statuses[a.Name] = got.Status
	}
	assert.Equal(t, models.StatusActive, statuses["Armchair"], "sighted asset untouched")
	assert.Equal(t, models.StatusMissing, statuses["Lamp"])
	assert.Equal(t, models.StatusActive, statuses["Mirror"], "checked-out asset is with a borrower, not missing")
	assert.Equal(t, models.StatusActive, statuses["Rug"], "other locations out of scope")

	var audit models.Transaction
	require.NoError(t, db.Where("asset_id = ? AND action = ?", unseen.ID, models.ActionAudit).
		First(&audit).Error)
	assert.Contains(t, audit.Notes, "not sighted")
}
