package ordersync

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"bitbucket.org/mmdatafocus/restaurant_backend/models"
	"bitbucket.org/mmdatafocus/restaurant_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const statusSummaryCacheKey = "ordersync:status-summary"

func operatorName(c *gin.Context) string {
	if name, ok := utils.GetUserNameFromContext(c.Request.Context()); ok && name != "" {
		return name
	}
	return "operator"
}

// Handler wires the sync engine to its HTTP surface.
type Handler struct {
	scheduler *Scheduler
	resolver  *Resolver
}

func NewHandler(scheduler *Scheduler, resolver *Resolver) *Handler {
	return &Handler{scheduler: scheduler, resolver: resolver}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	sync := r.Group("/sync")
	{
		sync.POST("/manual", h.ManualSync)
		sync.GET("/status", h.SyncStatus)
		sync.GET("/batches", h.ListBatches)
		sync.GET("/conflicts", h.ListConflicts)
		sync.POST("/conflicts/:id/resolve", h.ResolveConflict)
		sync.PUT("/configuration", h.UpdateConfiguration)
		sync.POST("/retry-failed", h.RetryFailed)
		sync.GET("/metrics", h.Metrics)
		sync.GET("/health", h.Health)
		sync.POST("/pubsub", h.PubSubPush)
	}

	r.POST("/orders", h.CreateOrder)
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.GET("/menu", h.ListMenu)
}

type manualSyncRequest struct {
	OrderIds []int `json:"order_ids"`
	Force    bool  `json:"force"`
}

func (h *Handler) ManualSync(c *gin.Context) {
	var req manualSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if len(req.OrderIds) > 0 {
		if req.Force {
			if err := models.ForceResyncOrders(c.Request.Context(), req.OrderIds); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		_, outcomes, err := h.scheduler.TriggerManualSync(c.Request.Context(), req.OrderIds)
		if err != nil {
			if errors.Is(err, ErrBatchInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": "a sync batch is already running, retry shortly"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		results := make([]gin.H, 0, len(outcomes))
		for _, o := range outcomes {
			entry := gin.H{"order_id": o.OrderId, "success": o.Success}
			if o.Error != "" {
				entry["error"] = o.Error
			}
			if o.Skipped {
				entry["skipped"] = true
			}
			results = append(results, entry)
		}
		_ = config.RemoveRedisKey(statusSummaryCacheKey)
		c.JSON(http.StatusOK, gin.H{"results": results})
		return
	}

	// With Pub/Sub configured the trigger goes over the topic so any instance
	// can pick it up; otherwise it runs in-process.
	if PubSubEnabled() {
		err := PublishBatchTrigger(c.Request.Context(), BatchTriggerMessage{
			RequestedBy: operatorName(c),
			RequestedAt: time.Now(),
		})
		if err == nil {
			c.JSON(http.StatusAccepted, gin.H{"status": "scheduled", "transport": "pubsub"})
			return
		}
		config.LogError(config.GetLogger(), "ordersync", "ManualSync", "publish batch trigger", nil, err)
	}

	queued, _, err := h.scheduler.TriggerManualSync(c.Request.Context(), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := "scheduled"
	if queued {
		status = "queued"
	}
	c.JSON(http.StatusAccepted, gin.H{"status": status})
}

func (h *Handler) SyncStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var cached gin.H
	if found, err := config.GetRedisObject(statusSummaryCacheKey, &cached); err == nil && found {
		cached["scheduler"] = h.scheduler.Status()
		c.JSON(http.StatusOK, cached)
		return
	}

	counts, err := models.CountSyncStatuses(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	unsynced, err := models.CountUnsyncedOrders(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pendingConflicts, err := models.CountPendingConflicts(ctx, time.Time{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	lastBatch, err := models.GetLastCompletedBatch(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	settings, err := models.LoadSyncSettings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{
		"status_counts":     counts,
		"unsynced_orders":   unsynced,
		"pending_conflicts": pendingConflicts,
		"last_batch":        lastBatch,
		"configuration":     settings,
	}
	_ = config.SetRedisObject(statusSummaryCacheKey, body, 30*time.Second)

	body["scheduler"] = h.scheduler.Status()
	c.JSON(http.StatusOK, body)
}

func (h *Handler) ListBatches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var completed *bool
	if v := c.Query("completed"); v != "" {
		parsed := v == "true" || v == "1"
		completed = &parsed
	}

	batches, total, err := models.GetSyncBatches(c.Request.Context(), limit, offset, completed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "total": total, "limit": limit, "offset": offset})
}

func (h *Handler) ListConflicts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.DefaultQuery("status", "pending")
	if status == "all" {
		status = ""
	}

	conflicts, total, err := models.GetSyncConflicts(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "total": total, "limit": limit, "offset": offset})
}

type resolveConflictRequest struct {
	ResolutionMethod string `json:"resolution_method" binding:"required,oneof=local_wins remote_wins merge ignore"`
	Notes            string `json:"notes"`
	FinalData        any    `json:"final_data"`
}

func (h *Handler) ResolveConflict(c *gin.Context) {
	conflictId, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
		return
	}

	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var finalData []byte
	if req.FinalData != nil {
		encoded, err := utils.MarshalToJSON(req.FinalData)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "final_data is not valid JSON"})
			return
		}
		finalData = []byte(encoded)
	}

	endState, err := h.resolver.ResolveManual(c.Request.Context(), conflictId, ManualResolution{
		Method:    models.ConflictResolutionMethod(req.ResolutionMethod),
		Notes:     req.Notes,
		FinalData: finalData,
		By:        operatorName(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conflict not found"})
		case errors.Is(err, ErrConflictAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	_ = config.RemoveRedisKey(statusSummaryCacheKey)
	c.JSON(http.StatusOK, gin.H{"resolved": true, "sync_status": endState})
}

func (h *Handler) UpdateConfiguration(c *gin.Context) {
	var req models.SyncConfigurationUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}

	changed, err := models.ApplySyncConfigurationUpdate(c.Request.Context(), &req, operatorName(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "changed": changed})
		return
	}

	for _, key := range changed {
		if key == models.ConfigKeySyncIntervalMinutes || key == models.ConfigKeySyncEnabled {
			h.scheduler.UpdateInterval()
			break
		}
	}

	settings, err := models.LoadSyncSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = config.RemoveRedisKey(statusSummaryCacheKey)
	c.JSON(http.StatusOK, gin.H{"changed": changed, "configuration": settings})
}

type retryFailedRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=500"`
}

func (h *Handler) RetryFailed(c *gin.Context) {
	var req retryFailedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Limit == 0 {
		req.Limit = 100
	}

	requeued, err := h.scheduler.RequeueFailed(c.Request.Context(), req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = config.RemoveRedisKey(statusSummaryCacheKey)
	c.JSON(http.StatusOK, gin.H{"requeued": requeued})
}

func (h *Handler) Metrics(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := models.CountSyncStatuses(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	batches, err := models.GetRecentBatches(ctx, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var total, success, failed, conflicts, avgMsSum int
	for _, b := range batches {
		total += b.TotalOrders
		success += b.SuccessfulSyncs
		failed += b.FailedSyncs
		conflicts += b.ConflictCount
		avgMsSum += b.AvgSyncTimeMs
	}
	successRate := 0.0
	if total > 0 {
		successRate = float64(success) / float64(total)
	}
	avgMs := 0
	if len(batches) > 0 {
		avgMs = avgMsSum / len(batches)
	}

	c.JSON(http.StatusOK, gin.H{
		"status_counts": counts,
		"recent_batches": gin.H{
			"count":            len(batches),
			"orders_total":     total,
			"orders_synced":    success,
			"orders_failed":    failed,
			"conflicts":        conflicts,
			"success_rate":     successRate,
			"avg_sync_time_ms": avgMs,
		},
	})
}

func (h *Handler) Health(c *gin.Context) {
	var cached HealthReport
	if found, err := config.GetRedisObject(healthReportRedisKey, &cached); err == nil && found {
		c.JSON(http.StatusOK, cached)
		return
	}

	report, err := CurrentHealth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var input models.NewOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}

	order, err := models.CreateOrder(c.Request.Context(), &input)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := models.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrorRecordNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, err := models.GetOrders(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "limit": limit, "offset": offset})
}

func (h *Handler) ListMenu(c *gin.Context) {
	items, err := models.GetMenuItems(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
