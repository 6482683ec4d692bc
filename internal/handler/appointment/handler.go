package appointment

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medilink-api/internal/handler"
	"github.com/jwalitptl/medilink-api/internal/middleware"
	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/service/appointment"
	"github.com/jwalitptl/medilink-api/pkg/httputil"
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	appointments := r.Group("/appointments")
	appointments.Use(auth.Authenticate())
	{
		appointments.POST("", auth.RequireRole(model.RolePatient), h.CreateAppointment)
		appointments.GET("", h.ListAppointments)
		appointments.PUT("/:id/status", h.UpdateStatus)
	}
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	caller, _ := middleware.CurrentUser(c)

	var req model.CreateAppointmentRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	apt, err := h.service.Create(c.Request.Context(), caller, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, apt)
}

func (h *Handler) ListAppointments(c *gin.Context) {
	caller, _ := middleware.CurrentUser(c)

	appointments, err := h.service.ListFor(c.Request.Context(), caller)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, appointments)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	caller, _ := middleware.CurrentUser(c)

	var req model.UpdateAppointmentStatusRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	apt, err := h.service.UpdateStatus(c.Request.Context(), caller, c.Param("id"), req.Status)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, apt)
}
