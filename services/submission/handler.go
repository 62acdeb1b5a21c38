package submission

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
	r.PUT("/v1/tasks/:id/submissions", h.Upsert)
	r.GET("/v1/submissions", h.List)
	r.GET("/v1/submissions/:id", h.Get)
	r.POST("/v1/submissions/:id/review", h.Review)
}

func (h *Handler) Upsert(c *gin.Context) {
	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid submission", err))
		return
	}
	req.TaskID = c.Param("id")
	req.UserID = middleware.ActorID(c.Request.Context())

	sub, err := h.service.Upsert(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	out, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Get(c *gin.Context) {
	sub, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) Review(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid review", err))
		return
	}
	req.SubmissionID = c.Param("id")
	req.ActorID = middleware.ActorID(c.Request.Context())

	sub, err := h.service.Review(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
