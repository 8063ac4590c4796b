package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"props-system/internal/database/models"
	"props-system/internal/server/middleware"
)

type checkoutRequest struct {
	BorrowerID    int64  `json:"borrower_id" binding:"required"`
	DestinationID *int64 `json:"destination_id"`
	Notes         string `json:"notes"`
	Timestamp     string `json:"timestamp"`
}

// Checkout assigns custody of the asset to a borrower.
func (s *AssetHandler) Checkout(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	borrower, ok := s.loadUser(c, req.BorrowerID)
	if !ok {
		return
	}
	var destination *models.Location
	if req.DestinationID != nil {
		if destination, ok = s.loadLocation(c, *req.DestinationID); !ok {
			return
		}
	}

	txn, err := s.protocol.Checkout(c.Request.Context(), id, borrower, middleware.CurrentUser(c), destination, req.Notes, ts)
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), id)
	s.success(c, txn)
}

type checkinRequest struct {
	LocationID int64  `json:"location_id" binding:"required"`
	Notes      string `json:"notes"`
	Timestamp  string `json:"timestamp"`
}

// Checkin returns the asset to a location.
func (s *AssetHandler) Checkin(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}
	var req checkinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}
	location, ok := s.loadLocation(c, req.LocationID)
	if !ok {
		return
	}

	txn, err := s.protocol.Checkin(c.Request.Context(), id, location, middleware.CurrentUser(c), req.Notes, ts)
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), id)
	s.success(c, txn)
}

type transferRequest struct {
	LocationID int64  `json:"location_id" binding:"required"`
	Notes      string `json:"notes"`
	Timestamp  string `json:"timestamp"`
}

// Transfer moves a non-checked-out asset between locations.
func (s *AssetHandler) Transfer(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}
	location, ok := s.loadLocation(c, req.LocationID)
	if !ok {
		return
	}

	txn, err := s.protocol.Transfer(c.Request.Context(), id, location, middleware.CurrentUser(c), req.Notes, ts)
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), id)
	s.success(c, txn)
}

// Relocate moves an asset (checked out or not) without touching
// custody.
func (s *AssetHandler) Relocate(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}
	location, ok := s.loadLocation(c, req.LocationID)
	if !ok {
		return
	}

	txn, err := s.protocol.Relocate(c.Request.Context(), id, location, middleware.CurrentUser(c), req.Notes, ts)
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), id)
	s.success(c, txn)
}

type handoverRequest struct {
	BorrowerID    int64  `json:"borrower_id" binding:"required"`
	DestinationID *int64 `json:"destination_id"`
	Notes         string `json:"notes"`
	Timestamp     string `json:"timestamp"`
}

// Handover moves custody directly to a new borrower.
func (s *AssetHandler) Handover(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}
	var req handoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	borrower, ok := s.loadUser(c, req.BorrowerID)
	if !ok {
		return
	}
	var destination *models.Location
	if req.DestinationID != nil {
		if destination, ok = s.loadLocation(c, *req.DestinationID); !ok {
			return
		}
	}

	txns, err := s.protocol.Handover(c.Request.Context(), id, borrower, middleware.CurrentUser(c), destination, req.Notes, ts)
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), id)
	s.success(c, txns)
}
