package ledger

import (
	"net/http"

	"ambassador-controlplane/pkg/db/pagination"
	"ambassador-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/v1/users/:id/ledger", h.List)
	r.GET("/v1/users/:id/ledger/verify", h.Verify)
}

func (h *Handler) List(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	out, err := h.service.List(c.Request.Context(), ListRequest{UserID: c.Param("id"), Pagination: page})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Verify(c *gin.Context) {
	out, err := h.service.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
