package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"props-system/internal/database/models"
	"props-system/internal/server/middleware"
	"props-system/internal/services/bulk"
	"props-system/internal/services/checkout"
	"props-system/internal/services/ledger"
	"props-system/internal/services/merge"
	"props-system/internal/services/permissions"
	"props-system/internal/services/resolve"
	"props-system/internal/services/state"
	"props-system/internal/services/stocktake"
)

const (
	ASSET_CACHE_PREFIX   = "asset:"
	ASSET_LIST_CACHE_KEY = "assets:list"
	LOCATIONS_CACHE_KEY  = "assets:locations"
	CATEGORIES_CACHE_KEY = "assets:categories"
	CACHE_TTL_SHORT      = 5 * time.Minute
	CACHE_TTL_MEDIUM     = 30 * time.Minute
)

type AssetHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	protocol  *checkout.Service
	bulk      *bulk.Service
	merge     *merge.Service
	stocktake *stocktake.Service
}

func NewAssetHandler(db *gorm.DB, redisClient *redis.Client, protocol *checkout.Service, bulkSvc *bulk.Service, mergeSvc *merge.Service, stocktakeSvc *stocktake.Service) *AssetHandler {
	return &AssetHandler{
		db:        db,
		redis:     redisClient,
		protocol:  protocol,
		bulk:      bulkSvc,
		merge:     mergeSvc,
		stocktake: stocktakeSvc,
	}
}

// --- Helpers ---

func (s *AssetHandler) success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func (s *AssetHandler) error(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}

// serviceError maps core errors onto HTTP statuses the web layer can
// render.
func (s *AssetHandler) serviceError(c *gin.Context, err error) {
	var alreadyOut *ledger.AlreadyCheckedOutError
	var illegal *state.IllegalTransitionError
	var invalidStatus *state.InvalidStatusError
	var checkedOut *state.AssetCheckedOutError
	var justification *state.MissingJustificationError
	var missingFields *state.MissingFieldsError
	var invalidState *checkout.InvalidStateError
	var notFound *resolve.NotFoundError

	switch {
	case errors.Is(err, checkout.ErrAssetNotFound), errors.As(err, &notFound):
		s.error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, checkout.ErrPermissionDenied):
		s.error(c, http.StatusForbidden, err.Error())
	case errors.As(err, &alreadyOut), errors.Is(err, models.ErrTransactionImmutable):
		s.error(c, http.StatusConflict, err.Error())
	case errors.As(err, &illegal),
		errors.As(err, &invalidStatus),
		errors.As(err, &checkedOut),
		errors.As(err, &justification),
		errors.As(err, &missingFields),
		errors.As(err, &invalidState),
		errors.Is(err, ledger.ErrFutureTimestamp),
		errors.Is(err, ledger.ErrSameLocation),
		errors.Is(err, ledger.ErrSameBorrower),
		errors.Is(err, ledger.ErrNotCheckedOut),
		errors.Is(err, ledger.ErrLocationRequired),
		errors.Is(err, checkout.ErrBackdateBeforeCreation),
		errors.Is(err, checkout.ErrBackdateWhileCheckedOut):
		s.error(c, http.StatusUnprocessableEntity, err.Error())
	default:
		s.error(c, http.StatusInternalServerError, "Internal error: "+err.Error())
	}
}

func parseID(c *gin.Context, param string) (int64, error) {
	return strconv.ParseInt(c.Param(param), 10, 64)
}

// parseTimestamp decodes an optional backdating timestamp.
func parseTimestamp(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp '%s', expected RFC3339", raw)
	}
	return &ts, nil
}

func (s *AssetHandler) loadLocation(c *gin.Context, id int64) (*models.Location, bool) {
	var location models.Location
	err := s.db.Where("id = ? AND is_active = ?", id, true).First(&location).Error
	if err != nil {
		s.error(c, http.StatusUnprocessableEntity, "Invalid location selected")
		return nil, false
	}
	return &location, true
}

func (s *AssetHandler) loadUser(c *gin.Context, id int64) (*models.User, bool) {
	var user models.User
	err := s.db.Preload("Role").Where("id = ? AND is_active = ?", id, true).First(&user).Error
	if err != nil {
		s.error(c, http.StatusUnprocessableEntity, "Invalid borrower selected")
		return nil, false
	}
	return &user, true
}

func (s *AssetHandler) invalidateAssetCaches(ctx context.Context, assetIDs ...int64) {
	if s.redis == nil {
		return
	}
	s.redis.Del(ctx, ASSET_LIST_CACHE_KEY)
	for _, id := range assetIDs {
		s.redis.Del(ctx, fmt.Sprintf("%s%d", ASSET_CACHE_PREFIX, id))
	}
}

// --- Asset CRUD ---

type createAssetRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Barcode     string `json:"barcode"`
	Quantity    int    `json:"quantity"`
	Condition   string `json:"condition"`
	CategoryID  *int64 `json:"category_id"`
	LocationID  *int64 `json:"location_id"`
	Notes       string `json:"notes"`
}

// CreateAsset captures a new asset in draft status. Category and
// location become mandatory at activation, not capture.
func (s *AssetHandler) CreateAsset(c *gin.Context) {
	var req createAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user := middleware.CurrentUser(c)
	asset := models.Asset{
		Name:              req.Name,
		Description:       req.Description,
		Barcode:           req.Barcode,
		Status:            models.StatusDraft,
		Condition:         req.Condition,
		Quantity:          req.Quantity,
		CategoryID:        req.CategoryID,
		CurrentLocationID: req.LocationID,
		Notes:             req.Notes,
		CreatedByID:       &user.ID,
	}
	if asset.Condition == "" {
		asset.Condition = models.ConditionGood
	}
	if asset.Quantity <= 0 {
		asset.Quantity = 1
	}

	if err := s.db.Create(&asset).Error; err != nil {
		s.error(c, http.StatusInternalServerError, "Failed to create asset: "+err.Error())
		return
	}

	s.invalidateAssetCaches(c.Request.Context())
	s.success(c, asset)
}

// GetAsset serves one asset, via the Redis read-cache when warm.
func (s *AssetHandler) GetAsset(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("%s%d", ASSET_CACHE_PREFIX, id)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var asset models.Asset
			if json.Unmarshal([]byte(cached), &asset) == nil {
				s.success(c, asset)
				return
			}
		}
	}

	var asset models.Asset
	err = s.db.Preload("Category").Preload("CurrentLocation").
		Preload("HomeLocation").Preload("CheckedOutTo").
		First(&asset, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.error(c, http.StatusNotFound, "Asset not found")
		return
	}
	if err != nil {
		s.error(c, http.StatusInternalServerError, "Database error")
		return
	}

	if s.redis != nil {
		if payload, err := json.Marshal(asset); err == nil {
			s.redis.Set(ctx, cacheKey, payload, CACHE_TTL_SHORT)
		}
	}
	s.success(c, asset)
}

// ListAssets returns assets filtered by status and/or location.
func (s *AssetHandler) ListAssets(c *gin.Context) {
	query := s.db.Model(&models.Asset{}).
		Preload("Category").Preload("CurrentLocation").Preload("CheckedOutTo")

	if status := c.Query("status"); status != "" {
		if !models.IsValidStatus(status) {
			s.error(c, http.StatusBadRequest, fmt.Sprintf("'%s' is not a valid status", status))
			return
		}
		query = query.Where("status = ?", status)
	}
	if loc := c.Query("location_id"); loc != "" {
		query = query.Where("current_location_id = ?", loc)
	}
	if holder := c.Query("checked_out_to"); holder != "" {
		query = query.Where("checked_out_to_id = ?", holder)
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var assets []models.Asset
	if err := query.Order("updated_at DESC").Limit(limit).Find(&assets).Error; err != nil {
		s.error(c, http.StatusInternalServerError, "Database error")
		return
	}
	s.success(c, assets)
}

type changeStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// ChangeStatus runs the state machine for one asset.
func (s *AssetHandler) ChangeStatus(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}
	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	asset, err := s.protocol.ChangeStatus(c.Request.Context(), id, req.Status, req.Notes, middleware.CurrentUser(c))
	if err != nil {
		s.serviceError(c, err)
		return
	}

	s.invalidateAssetCaches(c.Request.Context(), id)
	s.success(c, asset)
}

// ListTransactions returns the asset's ledger history, newest first.
func (s *AssetHandler) ListTransactions(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		s.error(c, http.StatusBadRequest, "Invalid asset id")
		return
	}

	var txns []models.Transaction
	err = s.db.Where("asset_id = ?", id).
		Order("timestamp DESC, id DESC").
		Find(&txns).Error
	if err != nil {
		s.error(c, http.StatusInternalServerError, "Database error")
		return
	}
	s.success(c, txns)
}

// ResolveAsset maps a scanned code (id, barcode, NFC tag, name) to an
// asset.
func (s *AssetHandler) ResolveAsset(c *gin.Context) {
	input := c.Query("code")
	asset, err := resolve.FromInput(s.db, input)
	if err != nil {
		s.serviceError(c, err)
		return
	}
	s.success(c, asset)
}

// UserRole reports the caller's effective role, for UI gating.
func (s *AssetHandler) UserRole(c *gin.Context) {
	user := middleware.CurrentUser(c)
	s.success(c, gin.H{"role": permissions.UserRole(user, nil)})
}
