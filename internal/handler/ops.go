package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/dto"
	"github.com/mackka2k/tg-news-listener/internal/service"
)

// OpsHandler serves liveness, readiness, stats and Prometheus metrics of the
// forwarder process
type OpsHandler struct {
	statsService service.StatsServicer
	router       *gin.Engine
	log          *zap.Logger
}

// NewOpsHandler creates the ops router. metrics may be nil to skip /metrics.
func NewOpsHandler(statsService service.StatsServicer, metrics http.Handler, log *zap.Logger) *OpsHandler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &OpsHandler{
		statsService: statsService,
		router:       router,
		log:          log,
	}

	h.router.GET("/health", healthCheck)
	h.router.GET("/ready", h.ready)
	h.router.GET("/stats", h.stats)
	if metrics != nil {
		h.router.GET("/metrics", gin.WrapH(metrics))
	}

	return h
}

func (h *OpsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// ready handles GET /ready
func (h *OpsHandler) ready(c *gin.Context) {
	if err := h.statsService.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "not_ready",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// stats handles GET /stats
func (h *OpsHandler) stats(c *gin.Context) {
	response, err := h.statsService.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to read stats", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "storage_unavailable",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, response)
}
