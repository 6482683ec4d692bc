package report

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medilink-api/internal/middleware"
	"github.com/jwalitptl/medilink-api/internal/service/medical"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/httputil"
)

const formFileField = "file"

type Handler struct {
	service *medical.Service
}

func NewHandler(service *medical.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	reports := r.Group("/reports")
	reports.Use(auth.Authenticate())
	{
		reports.POST("/upload", h.Upload)
		reports.GET("/:userId", h.ListReports)
	}
}

func (h *Handler) Upload(c *gin.Context) {
	caller, _ := middleware.CurrentUser(c)

	// PostForm swallows parse errors, so an over-limit body is caught here.
	if _, err := c.MultipartForm(); isTooLarge(err) {
		respondTooLarge(c)
		return
	}

	in := medical.UploadInput{
		DoctorID:   c.PostForm("doctorId"),
		ReportType: c.PostForm("reportType"),
		Date:       c.PostForm("date"),
	}
	if notes := strings.TrimSpace(c.PostForm("notes")); notes != "" {
		in.Notes = &notes
	}

	header, err := c.FormFile(formFileField)
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case isTooLarge(err):
		respondTooLarge(c)
		return
	case err != nil:
		httputil.RespondWithError(c, apperrors.Validation("could not read upload", err))
		return
	default:
		f, err := header.Open()
		if err != nil {
			httputil.RespondWithError(c, apperrors.Internal(err))
			return
		}
		defer f.Close()

		in.File = &medical.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Content:     f,
		}
	}

	report, err := h.service.Upload(c.Request.Context(), caller, in)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, report)
}

func (h *Handler) ListReports(c *gin.Context) {
	caller, _ := middleware.CurrentUser(c)

	reports, err := h.service.ListFor(c.Request.Context(), caller, c.Param("userId"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, reports)
}

func isTooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	return errors.As(err, &maxBytes)
}

func respondTooLarge(c *gin.Context) {
	httputil.RespondWithStatus(c, http.StatusRequestEntityTooLarge, "Request size exceeds limit")
}
