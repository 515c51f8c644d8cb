package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/dto"
	"github.com/mackka2k/tg-news-listener/internal/service"
)

// Handler serves the ingest API
type Handler struct {
	ingestService service.IngestServicer
	router        *gin.Engine
	log           *zap.Logger
}

func NewHandler(ingestService service.IngestServicer, log *zap.Logger) *Handler {
	h := &Handler{
		ingestService: ingestService,
		router:        gin.Default(),
		log:           log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", healthCheck)
	h.router.POST("/messages", h.publishMessage)
	h.router.POST("/messages/bulk", h.publishMessagesBulk)
	h.router.GET("/outcomes/metrics", h.getOutcomeMetrics)
}

// healthCheck handles GET /health
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// serviceError maps a service error onto a status code and error body
func serviceError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
	case errors.Is(err, service.ErrAuditDisabled):
		c.JSON(http.StatusNotImplemented, dto.ErrorResponse{
			Error:   "audit_disabled",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

// publishMessage handles POST /messages
func (h *Handler) publishMessage(c *gin.Context) {
	var req dto.PublishMessageRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid message request",
			zap.Error(err),
			zap.String("source_id", req.SourceID))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	fingerprint, err := h.ingestService.PublishMessage(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to publish message",
			zap.Error(err),
			zap.String("source_id", req.SourceID),
			zap.String("message_id", req.MessageID))
		serviceError(c, err)
		return
	}

	h.log.Info("Message accepted", zap.String("fingerprint", fingerprint))

	c.JSON(http.StatusAccepted, dto.PublishMessageResponse{
		Fingerprint: fingerprint,
		Status:      "accepted",
	})
}

// publishMessagesBulk handles POST /messages/bulk
func (h *Handler) publishMessagesBulk(c *gin.Context) {
	var bulkRequest dto.PublishMessagesBulkRequest

	if err := c.ShouldBindJSON(&bulkRequest); err != nil {
		h.log.Warn("Invalid bulk message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	fingerprints, errs, err := h.ingestService.PublishBulkMessages(c.Request.Context(), bulkRequest.Messages)
	if err != nil {
		h.log.Error("Failed to publish bulk messages",
			zap.Error(err),
			zap.Int("message_count", len(bulkRequest.Messages)))
		serviceError(c, err)
		return
	}

	accepted := len(fingerprints)
	rejected := len(errs)

	h.log.Info("Bulk messages processed",
		zap.Int("accepted", accepted),
		zap.Int("rejected", rejected),
		zap.Int("total", len(bulkRequest.Messages)))

	c.JSON(http.StatusAccepted, dto.PublishBulkMessagesResponse{
		Accepted:     accepted,
		Rejected:     rejected,
		Fingerprints: fingerprints,
		Errors:       errs,
	})
}

// getOutcomeMetrics handles GET /outcomes/metrics
func (h *Handler) getOutcomeMetrics(c *gin.Context) {
	var req dto.GetOutcomeMetricsRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid outcome metrics request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	response, err := h.ingestService.GetOutcomeMetrics(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get outcome metrics",
			zap.Error(err),
			zap.String("state", req.State),
			zap.Int64("from", req.From),
			zap.Int64("to", req.To))
		serviceError(c, err)
		return
	}

	h.log.Info("Outcome metrics retrieved",
		zap.String("state", req.State),
		zap.Uint64("total_count", response.TotalCount),
		zap.Uint64("unique_source", response.UniqueSource))

	c.JSON(http.StatusOK, response)
}
