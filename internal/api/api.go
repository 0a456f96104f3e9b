package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ne-autoprice/internal/config"
	"ne-autoprice/internal/models"
	"ne-autoprice/internal/services/nextengine"
	"ne-autoprice/internal/services/platformsync"
	"ne-autoprice/internal/services/pricing"
	"ne-autoprice/internal/services/report"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APIHandler wires the scheduler entry points and operational endpoints.
type APIHandler struct {
	db       *gorm.DB
	cfg      *config.Config
	client   *nextengine.Client
	tokens   nextengine.TokenStore
	pricing  *pricing.Service
	settings pricing.Store
	sync     *platformsync.Engine
	syncLogs *platformsync.GormSyncLogStore
	report   *report.Service
	logger   *zap.Logger
}

func SetupRoutes(
	r *gin.RouterGroup,
	db *gorm.DB,
	cfg *config.Config,
	client *nextengine.Client,
	tokens nextengine.TokenStore,
	pricingSvc *pricing.Service,
	settings pricing.Store,
	syncEngine *platformsync.Engine,
	syncLogs *platformsync.GormSyncLogStore,
	reportSvc *report.Service,
	logger *zap.Logger,
) *APIHandler {
	handler := &APIHandler{
		db:       db,
		cfg:      cfg,
		client:   client,
		tokens:   tokens,
		pricing:  pricingSvc,
		settings: settings,
		sync:     syncEngine,
		syncLogs: syncLogs,
		report:   reportSvc,
		logger:   logger,
	}

	ne := r.Group("/nextengine")
	{
		ne.GET("/auth", handler.StartAuth)
		ne.GET("/callback", handler.AuthCallback)
		ne.POST("/setup-tokens", handler.SetupTokens)
		ne.GET("/keepalive", handler.KeepAlive)
		ne.GET("/price-update", handler.PriceUpdate)
		ne.POST("/toggle-update", handler.ToggleUpdate)
		ne.GET("/platform-sync", handler.PlatformSyncStatus)
		ne.POST("/platform-sync", handler.RunPlatformSync)
	}

	monitoring := r.Group("/monitoring")
	{
		monitoring.GET("/weekly-report", handler.WeeklyReport)
	}

	logs := r.Group("/logs")
	{
		logs.GET("/executions", handler.RecentExecutions)
		logs.GET("/keepalive", handler.RecentKeepalives)
	}

	return handler
}

// requireCronSecret guards the scheduled entry points. With no secret
// configured the check is a no-op (local development).
func (h *APIHandler) requireCronSecret(c *gin.Context) bool {
	if h.cfg.CronSecret == "" {
		return true
	}
	if c.GetHeader("Authorization") != "Bearer "+h.cfg.CronSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return false
	}
	return true
}

// StartAuth redirects the operator's browser into the NextEngine OAuth flow.
func (h *APIHandler) StartAuth(c *gin.Context) {
	if h.cfg.NEClientID == "" || h.cfg.BaseURL == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Missing NextEngine configuration",
			"message": "NE_CLIENT_ID and BASE_URL are required",
		})
		return
	}

	authURL, err := url.Parse(h.cfg.NEOAuthBaseURL + "/apps/oauth2/authorize")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	q := authURL.Query()
	q.Set("client_id", h.cfg.NEClientID)
	q.Set("redirect_uri", h.cfg.BaseURL+"/api/nextengine/callback")
	q.Set("response_type", "code")
	q.Set("state", h.cfg.NEAuthState)
	authURL.RawQuery = q.Encode()

	c.Redirect(http.StatusFound, authURL.String())
}

// AuthCallback receives the token pair from the OAuth redirect and persists
// it as the new singleton pair.
func (h *APIHandler) AuthCallback(c *gin.Context) {
	if c.Query("health") != "" {
		c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Callback endpoint is healthy", "timestamp": time.Now().UTC()})
		return
	}

	if oauthErr := c.Query("error"); oauthErr != "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "OAuth error: " + oauthErr})
		return
	}

	accessToken := c.Query("access_token")
	refreshToken := c.Query("refresh_token")
	if accessToken == "" || refreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Missing tokens in callback",
		})
		return
	}

	err := h.tokens.Save(nextengine.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ClientID:     h.cfg.NEClientID,
		ClientSecret: h.cfg.NEClientSecret,
	})
	if err != nil {
		h.logger.Error("failed to save tokens from callback", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Tokens saved successfully", "timestamp": time.Now().UTC()})
}

// SetupTokens seeds the token row once from environment-provided initial
// tokens. Refuses when a pair already exists.
func (h *APIHandler) SetupTokens(c *gin.Context) {
	if !h.requireCronSecret(c) {
		return
	}

	if h.cfg.InitialAccessToken == "" || h.cfg.InitialRefreshToken == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Missing initial tokens",
			"message": "INITIAL_ACCESS_TOKEN and INITIAL_REFRESH_TOKEN are required",
		})
		return
	}

	existing, err := h.tokens.Get()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Tokens already exist"})
		return
	}

	err = h.tokens.Save(nextengine.TokenPair{
		AccessToken:  h.cfg.InitialAccessToken,
		RefreshToken: h.cfg.InitialRefreshToken,
		ClientID:     h.cfg.NEClientID,
		ClientSecret: h.cfg.NEClientSecret,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Initial tokens saved", "timestamp": time.Now().UTC()})
}

// KeepAlive exercises the token on the keepalive schedule and appends to the
// keepalive log. The consecutive-failure count is surfaced for alerting.
func (h *APIHandler) KeepAlive(c *gin.Context) {
	if !h.requireCronSecret(c) {
		return
	}

	start := time.Now()
	result := h.client.KeepAlive(c.Request.Context())
	duration := time.Since(start).Seconds()

	status := models.ExecutionFailed
	if result.Success {
		status = models.ExecutionSuccess
	}
	if err := h.db.Create(&models.KeepAliveLog{Status: status, Message: result.Message}).Error; err != nil {
		h.logger.Error("failed to write keepalive log", zap.Error(err))
	}

	httpStatus := http.StatusOK
	if !result.Success {
		httpStatus = http.StatusInternalServerError
	}
	c.JSON(httpStatus, gin.H{
		"success":              result.Success,
		"refreshed":            result.Refreshed,
		"message":              result.Message,
		"duration":             duration,
		"consecutive_failures": h.consecutiveKeepaliveFailures(),
		"timestamp":            time.Now().UTC(),
	})
}

// consecutiveKeepaliveFailures counts the newest unbroken run of FAILED
// keepalive entries. Used only for downstream alerting.
func (h *APIHandler) consecutiveKeepaliveFailures() int {
	var recent []models.KeepAliveLog
	if err := h.db.Order("created_at DESC").Limit(20).Find(&recent).Error; err != nil {
		h.logger.Warn("failed to scan keepalive history", zap.Error(err))
		return 0
	}
	count := 0
	for _, entry := range recent {
		if entry.Status != models.ExecutionFailed {
			break
		}
		count++
	}
	return count
}

// PriceUpdate triggers the daily repricing flow. The run itself guarantees
// an execution log row; this handler only maps the outcome onto HTTP.
func (h *APIHandler) PriceUpdate(c *gin.Context) {
	if !h.requireCronSecret(c) {
		return
	}

	reason := c.DefaultQuery("reason", "scheduled")
	result := h.pricing.RunDailyUpdate(c.Request.Context(), reason)

	httpStatus := http.StatusOK
	if result.Status == models.ExecutionFailed {
		httpStatus = http.StatusInternalServerError
	}
	c.JSON(httpStatus, result)
}

type toggleRequest struct {
	Action string `json:"action" binding:"required,oneof=start stop status"`
	Secret string `json:"secret" binding:"required"`
}

// ToggleUpdate flips or reads the persisted repricing switch.
func (h *APIHandler) ToggleUpdate(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request. Use action: start, stop, or status"})
		return
	}

	if h.cfg.ToggleSecret == "" || req.Secret != h.cfg.ToggleSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: invalid secret"})
		return
	}

	if req.Action == "status" {
		enabled, err := h.settings.PriceUpdateEnabled()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "enabled": enabled})
		return
	}

	enabled := req.Action == "start"
	if err := h.settings.SetPriceUpdateEnabled(enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	message := "price updates resumed"
	if !enabled {
		message = "price updates stopped"
	}
	h.logger.Info("price update switch toggled", zap.Bool("enabled", enabled))
	c.JSON(http.StatusOK, gin.H{"success": true, "action": req.Action, "enabled": enabled, "message": message})
}

// PlatformSyncStatus returns the latest sync attempts.
func (h *APIHandler) PlatformSyncStatus(c *gin.Context) {
	recent, err := h.syncLogs.Recent(10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	var lastSync *models.PlatformSyncLog
	if len(recent) > 0 {
		lastSync = &recent[0]
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"last_sync":    lastSync,
			"recent_syncs": recent,
		},
	})
}

type syncRequest struct {
	Products []syncProduct `json:"products" binding:"required,min=1,dive"`
}

type syncProduct struct {
	GoodsID   string  `json:"goods_id" binding:"required"`
	GoodsName string  `json:"goods_name"`
	NewPrice  float64 `json:"new_price" binding:"required,gt=0"`
	MetalType string  `json:"metal_type" binding:"omitempty,oneof=gold platinum"`
}

// RunPlatformSync manually re-pushes a submitted product list to the
// marketplace channels.
func (h *APIHandler) RunPlatformSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no sync products supplied: " + err.Error()})
		return
	}

	products := make([]platformsync.UpdatedProduct, 0, len(req.Products))
	for _, p := range req.Products {
		products = append(products, platformsync.UpdatedProduct{
			GoodsID:   p.GoodsID,
			GoodsName: p.GoodsName,
			NewPrice:  p.NewPrice,
			MetalType: p.MetalType,
		})
	}

	result := h.sync.Sync(c.Request.Context(), products)
	c.JSON(http.StatusOK, gin.H{"success": result.Success, "message": result.Message, "details": result.Batches})
}

// WeeklyReport streams the weekly health workbook.
func (h *APIHandler) WeeklyReport(c *gin.Context) {
	if !h.requireCronSecret(c) {
		return
	}

	f, err := h.report.BuildWeekly()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("weekly-report-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("failed to stream weekly report", zap.Error(err))
	}
}

// RecentExecutions lists the latest daily run outcomes for the dashboard.
func (h *APIHandler) RecentExecutions(c *gin.Context) {
	limit := queryInt(c, "limit", 30)
	var rows []models.ExecutionLog
	if err := h.db.Order("date DESC").Limit(limit).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows})
}

// RecentKeepalives lists the latest keepalive attempts.
func (h *APIHandler) RecentKeepalives(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	var rows []models.KeepAliveLog
	if err := h.db.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows})
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	if raw := c.Query(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
