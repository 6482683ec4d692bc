package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medilink-api/internal/handler"
	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/service/auth"
	"github.com/jwalitptl/medilink-api/pkg/httputil"
)

type Handler struct {
	svc *auth.Service
}

func NewHandler(svc *auth.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, limiter gin.HandlerFunc) {
	group := r.Group("/auth")
	if limiter != nil {
		group.Use(limiter)
	}
	{
		group.POST("/signup", h.Signup)
		group.POST("/login", h.Login)
		group.POST("/forgot-password", h.ForgotPassword)
		group.POST("/reset-password/:token", h.ResetPassword)
	}
}

func (h *Handler) Signup(c *gin.Context) {
	var req model.SignupRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	resp, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, http.StatusCreated, "User registered successfully", resp)
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, http.StatusOK, "Login successful", resp)
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req model.ForgotPasswordRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	if err := h.svc.ForgotPassword(c.Request.Context(), req.Email, resetURLBase(c)); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, http.StatusOK, "Password reset email sent", nil)
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req model.ResetPasswordRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	resp, err := h.svc.ResetPassword(c.Request.Context(), c.Param("token"), req.Password)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithMessage(c, http.StatusOK, "Password reset successful", resp)
}

// resetURLBase derives the reset link base from the incoming request.
func resetURLBase(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + c.Request.Host + "/reset-password"
}
