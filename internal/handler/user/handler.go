package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medilink-api/internal/handler"
	"github.com/jwalitptl/medilink-api/internal/middleware"
	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/service/user"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/httputil"
)

type Handler struct {
	service *user.Service
}

func NewHandler(service *user.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	users := r.Group("/users")
	{
		users.GET("/doctors", h.ListDoctors)
		users.GET("/profile", auth.Authenticate(), h.GetProfile)
		users.PUT("/profile", auth.Authenticate(), h.UpdateProfile)
	}
}

func (h *Handler) GetProfile(c *gin.Context) {
	caller, _ := middleware.CurrentUser(c)

	u, err := h.service.GetProfile(c.Request.Context(), caller.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, u)
}

// UpdateProfile accepts only name and profile; any other field, email and
// role included, rejects the whole request.
func (h *Handler) UpdateProfile(c *gin.Context) {
	caller, _ := middleware.CurrentUser(c)

	var req model.UpdateProfileRequest
	if err := handler.DecodeStrict(c.Request.Body, &req); err != nil {
		httputil.RespondWithError(c, apperrors.Validation("Invalid updates", err))
		return
	}

	u, err := h.service.UpdateProfile(c.Request.Context(), caller.ID, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, u)
}

func (h *Handler) ListDoctors(c *gin.Context) {
	doctors, err := h.service.ListDoctors(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, doctors)
}
