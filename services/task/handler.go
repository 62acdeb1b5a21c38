package task

import (
	"net/http"

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
	r.POST("/v1/campaigns/:id/settlements", h.Request)
	r.GET("/v1/settlements/:id", h.Get)
}

func (h *Handler) Request(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.service.RequestSettlement(ctx, middleware.ActorID(ctx), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) Get(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, job)
}
