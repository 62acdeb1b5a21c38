package organization

import (
	"net/http"

	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/v1/organizations/:id", h.Get)
	r.POST("/v1/organizations/:id/moderation", h.Moderate)
}

func (h *Handler) Get(c *gin.Context) {
	org, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, org)
}

func (h *Handler) Moderate(c *gin.Context) {
	var req ModerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid moderation request", err))
		return
	}
	req.OrganizationID = c.Param("id")
	req.ActorID = middleware.ActorID(c.Request.Context())

	result, err := h.service.ApplyModeration(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
