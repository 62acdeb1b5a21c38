package distribution

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
	r.POST("/v1/campaigns/:id/distributions", h.Distribute)
	r.GET("/v1/campaigns/:id/distributions", h.List)
	r.POST("/v1/distributions/:id/settle", h.Settle)
}

func (h *Handler) Distribute(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.service.Authorize(ctx, middleware.ActorID(ctx)); err != nil {
		_ = c.Error(err)
		return
	}

	var req DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid distribution request", err))
		return
	}

	out, err := h.service.Distribute(ctx, c.Param("id"), req.Allocations)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	req.CampaignID = c.Param("id")

	out, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Settle is called by the payout rail, or an operator, once a PENDING
// transfer reached its final state.
func (h *Handler) Settle(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.service.Authorize(ctx, middleware.ActorID(ctx)); err != nil {
		_ = c.Error(err)
		return
	}

	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid settle request", err))
		return
	}
	req.DistributionID = c.Param("id")

	out, err := h.service.Settle(ctx, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
