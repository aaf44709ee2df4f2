package decision

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"triage/internal/constants"
	"triage/internal/logger"
	"triage/internal/rules"
	"triage/pkg/errors"
	"triage/pkg/models"
)

type Handler struct {
	service   *Service
	rulesRepo rules.Repository
	logger    logger.Logger
}

func NewHandler(service *Service, rulesRepo rules.Repository, log logger.Logger) *Handler {
	return &Handler{
		service:   service,
		rulesRepo: rulesRepo,
		logger:    log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/notifications/decide", h.DecideNotification)
		v1.GET("/decisions/recent", h.RecentDecisions)
		v1.GET("/rules", h.ListRules)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	if vErr, ok := err.(*models.ValidationError); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      vErr.Message,
			"error_code": errors.ErrValidation.Code,
			"field":      vErr.Field,
		})
		return
	}

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// DecideNotification classifies a single event synchronously. A missing id
// is generated; every other field must already be valid.
func (h *Handler) DecideNotification(c *gin.Context) {
	var event models.NotificationEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.handleError(c, errors.ErrValidation.WithCause(err).WithDetail("message", "invalid request body"))
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	outcome, err := h.service.Submit(c.Request.Context(), event)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":       event.ID,
		"classification": outcome.Classification,
		"explanation":    outcome.Explanation,
	})
}

func (h *Handler) RecentDecisions(c *gin.Context) {
	limit := constants.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.handleError(c, errors.ErrValidation.WithDetail("message", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	records, err := h.service.RecentDecisions(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if records == nil {
		records = []Record{}
	}

	c.JSON(http.StatusOK, records)
}

func (h *Handler) ListRules(c *gin.Context) {
	configs, err := h.rulesRepo.GetActiveRuleConfigs(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	if configs == nil {
		configs = []rules.RuleConfig{}
	}

	c.JSON(http.StatusOK, configs)
}
