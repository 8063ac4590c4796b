package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"props-system/internal/database/models"
	"props-system/internal/server/middleware"
)

type bulkMovementRequest struct {
	AssetIDs   []int64 `json:"asset_ids" binding:"required"`
	LocationID *int64  `json:"location_id"`
	BorrowerID *int64  `json:"borrower_id"`
	Notes      string  `json:"notes"`
	Timestamp  string  `json:"timestamp"`
}

// BulkTransfer moves a set of assets; checked-out members are skipped
// by name.
func (s *AssetHandler) BulkTransfer(c *gin.Context) {
	var req bulkMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.LocationID == nil {
		s.error(c, http.StatusBadRequest, "location_id is required")
		return
	}
	location, ok := s.loadLocation(c, *req.LocationID)
	if !ok {
		return
	}

	res, err := s.bulk.Transfer(c.Request.Context(), req.AssetIDs, location, middleware.CurrentUser(c))
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), req.AssetIDs...)
	s.success(c, res)
}

// BulkCheckout checks a set of assets out to one borrower.
func (s *AssetHandler) BulkCheckout(c *gin.Context) {
	var req bulkMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.BorrowerID == nil {
		s.error(c, http.StatusBadRequest, "borrower_id is required")
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}
	borrower, ok := s.loadUser(c, *req.BorrowerID)
	if !ok {
		return
	}

	res, err := s.bulk.Checkout(c.Request.Context(), req.AssetIDs, borrower, middleware.CurrentUser(c), req.Notes, ts)
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), req.AssetIDs...)
	s.success(c, res)
}

// BulkCheckin returns a set of assets to a location.
func (s *AssetHandler) BulkCheckin(c *gin.Context) {
	var req bulkMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.LocationID == nil {
		s.error(c, http.StatusBadRequest, "location_id is required")
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}
	location, ok := s.loadLocation(c, *req.LocationID)
	if !ok {
		return
	}

	res, err := s.bulk.Checkin(c.Request.Context(), req.AssetIDs, location, middleware.CurrentUser(c), req.Notes, ts)
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), req.AssetIDs...)
	s.success(c, res)
}

type bulkStatusRequest struct {
	AssetIDs []int64 `json:"asset_ids" binding:"required"`
	Status   string  `json:"status" binding:"required"`
	Notes    string  `json:"notes"`
}

// BulkStatusChange validates each transition individually and reports
// the per-asset failures alongside the success count.
func (s *AssetHandler) BulkStatusChange(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	count, failures, err := s.bulk.StatusChange(c.Request.Context(), req.AssetIDs, req.Status, req.Notes, middleware.CurrentUser(c))
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), req.AssetIDs...)
	s.success(c, gin.H{"succeeded": count, "failures": failures})
}

type bulkEditRequest struct {
	AssetIDs   []int64 `json:"asset_ids" binding:"required"`
	CategoryID *int64  `json:"category_id"`
	LocationID *int64  `json:"location_id"`
}

// BulkEdit applies only the supplied fields; blanks never overwrite.
func (s *AssetHandler) BulkEdit(c *gin.Context) {
	var req bulkEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	count, err := s.bulk.Edit(c.Request.Context(), req.AssetIDs, req.CategoryID, req.LocationID)
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), req.AssetIDs...)
	s.success(c, gin.H{"updated": count})
}

type mergeRequest struct {
	PrimaryID    int64   `json:"primary_id" binding:"required"`
	DuplicateIDs []int64 `json:"duplicate_ids" binding:"required"`
}

// MergeAssets folds duplicates into a primary record.
func (s *AssetHandler) MergeAssets(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	primary, err := s.merge.Merge(c.Request.Context(), req.PrimaryID, req.DuplicateIDs, middleware.CurrentUser(c))
	if err != nil {
		s.error(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ids := append([]int64{req.PrimaryID}, req.DuplicateIDs...)
	s.invalidateAssetCaches(c.Request.Context(), ids...)
	s.success(c, primary)
}

type sightingRequest struct {
	LocationID int64  `json:"location_id" binding:"required"`
	Notes      string `json:"notes"`
}

// StocktakeSighting records an audit sighting for an asset.
func (s *AssetHandler) StocktakeSighting(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}
	var req sightingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	location, ok := s.loadLocation(c, req.LocationID)
	if !ok {
		return
	}

	var asset models.Asset
	if err := s.db.Preload("CheckedOutTo").First(&asset, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.error(c, http.StatusNotFound, "Asset not found")
		} else {
			s.error(c, http.StatusInternalServerError, "Database error")
		}
		return
	}

	txn, err := s.stocktake.RecordSighting(c.Request.Context(), &asset, location, middleware.CurrentUser(c), req.Notes)
	if err != nil {
		s.serviceError(c, err)
		return
	}
	s.success(c, txn)
}

type stocktakeSweepRequest struct {
	LocationID int64  `json:"location_id" binding:"required"`
	Since      string `json:"since" binding:"required"`
}

// StocktakeSweep marks active assets at a location missing when they
// were not sighted since the given time.
func (s *AssetHandler) StocktakeSweep(c *gin.Context) {
	var req stocktakeSweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	since, err := time.Parse(time.RFC3339, req.Since)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid 'since' timestamp, expected RFC3339")
		return
	}

	count, failures, err := s.stocktake.MarkUnseenMissing(c.Request.Context(), req.LocationID, since, middleware.CurrentUser(c))
	if err != nil {
		s.serviceError(c, err)
		return
	}
	s.success(c, gin.H{"marked_missing": count, "failures": failures})
}
