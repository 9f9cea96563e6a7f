package notification

import (
	"log/slog"
	"net/http"

	"notifybridge/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the admin API.
type Handler struct {
	service *Service
}

// NewHandler creates a new admin handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListRecords handles GET /api/v1/records/:instance
func (h *Handler) ListRecords(c *gin.Context) {
	var filter RecordFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}
	filter.Instance = Instance(c.Param("instance"))

	resp, err := h.service.ListRecords(c.Request.Context(), filter)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, resp)
}

// GetRecord handles GET /api/v1/records/:instance/:id
func (h *Handler) GetRecord(c *gin.Context) {
	rec, err := h.service.GetRecord(c.Request.Context(), Instance(c.Param("instance")), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, rec)
}

// RunLoop handles POST /api/v1/loops/:name/run
// Queues a run for the worker and returns 202 Accepted.
func (h *Handler) RunLoop(c *gin.Context) {
	name := c.Param("name")

	if err := h.service.TriggerLoop(c.Request.Context(), name); err != nil {
		slog.ErrorContext(c.Request.Context(), "loop trigger failed", "loop", name, "error", err)
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusAccepted, gin.H{"loop": name, "status": "queued"})
}

// RegisterRoutes registers admin routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/records/:instance", h.ListRecords)
	rg.GET("/records/:instance/:id", h.GetRecord)
	rg.POST("/loops/:name/run", h.RunLoop)
}
