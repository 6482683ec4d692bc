package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appointmenthandler "github.com/jwalitptl/medilink-api/internal/handler/appointment"
	authhandler "github.com/jwalitptl/medilink-api/internal/handler/auth"
	"github.com/jwalitptl/medilink-api/internal/handler/health"
	promhandler "github.com/jwalitptl/medilink-api/internal/handler/prometheus"
	reporthandler "github.com/jwalitptl/medilink-api/internal/handler/report"
	userhandler "github.com/jwalitptl/medilink-api/internal/handler/user"
	"github.com/jwalitptl/medilink-api/internal/middleware"
	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/ocr"
	"github.com/jwalitptl/medilink-api/internal/repository/memory"
	"github.com/jwalitptl/medilink-api/internal/service/appointment"
	"github.com/jwalitptl/medilink-api/internal/service/audit"
	authsvc "github.com/jwalitptl/medilink-api/internal/service/auth"
	"github.com/jwalitptl/medilink-api/internal/service/event"
	"github.com/jwalitptl/medilink-api/internal/service/medical"
	"github.com/jwalitptl/medilink-api/internal/service/user"
	"github.com/jwalitptl/medilink-api/internal/storage"
	"github.com/jwalitptl/medilink-api/pkg/auth"
	"github.com/jwalitptl/medilink-api/pkg/metrics"
	"github.com/jwalitptl/medilink-api/pkg/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type capturingMailer struct {
	mu   sync.Mutex
	urls []string
}

func (m *capturingMailer) SendPasswordReset(ctx context.Context, to, name, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, resetURL)
	return nil
}

func (m *capturingMailer) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.urls) == 0 {
		return ""
	}
	return m.urls[len(m.urls)-1]
}

type staticOCR struct{ text string }

func (o staticOCR) Extract(ctx context.Context, doc ocr.Document) (string, error) {
	return o.text, nil
}

type testServer struct {
	engine *gin.Engine
	store  *memory.Store
	mailer *capturingMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	require.NoError(t, middleware.RegisterValidation())

	store := memory.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.New("medilink", reg)
	mailer := &capturingMailer{}
	auditor := audit.NewService(store.Audit(), nil)
	events := event.NewEventService(store.Outbox(), nil)

	blobs, err := storage.NewLocalStore(t.TempDir(), "uploads")
	require.NoError(t, err)

	userSvc := user.NewService(store.Users(), auditor, time.Minute, nil)
	authService := authsvc.NewService(authsvc.Deps{
		UserRepo:  store.Users(),
		JWT:       auth.NewJWTService(auth.Config{Secret: "router-test", Expiry: time.Hour}),
		Hasher:    security.NewBcryptHasher(bcrypt.MinCost),
		Email:     mailer,
		Auditor:   auditor,
		Events:    events,
		Directory: userSvc,
		Metrics:   m,
	}, authsvc.Config{})
	appointmentSvc := appointment.NewService(appointment.Deps{
		Repo:     store.Appointments(),
		UserRepo: store.Users(),
		Auditor:  auditor,
		Events:   events,
		Metrics:  m,
	}, model.AccessAny)
	reportSvc := medical.NewService(medical.Deps{
		Repo:      store.Reports(),
		UserRepo:  store.Users(),
		Blobs:     blobs,
		Extractor: staticOCR{text: "Glucose 90 mg/dL"},
		Events:    events,
		Metrics:   m,
	}, medical.Config{})

	r := NewRouter(middleware.NewAuthMiddleware(authService), Handlers{
		Auth:        authhandler.NewHandler(authService),
		User:        userhandler.NewHandler(userSvc),
		Appointment: appointmenthandler.NewHandler(appointmentSvc),
		Report:      reporthandler.NewHandler(reportSvc),
		Health:      health.NewHandler(map[string]health.Pinger{"database": store.Users()}),
		Metrics:     promhandler.New(reg, m),
	}, RouterConfig{
		SizeLimit: middleware.DefaultSizeLimitConfig(),
		Timeout:   middleware.DefaultTimeoutConfig(),
		Logger:    middleware.DefaultLoggerConfig(),
		Security:  middleware.DefaultSecurityConfig(),
	})
	r.Setup()

	return &testServer{engine: r.Engine(), store: store, mailer: mailer}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.serve(t, req)
}

func (s *testServer) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

type session struct {
	User  map[string]interface{} `json:"user"`
	Token string                 `json:"token"`
}

func (s *testServer) signup(t *testing.T, name, email string, role model.Role, profile map[string]interface{}) session {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]interface{}{
		"name":     name,
		"email":    email,
		"password": "secret1",
		"role":     role,
		"profile":  profile,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)

	var sess session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	return sess
}

func TestSignupLoginProfile(t *testing.T) {
	s := newTestServer(t)

	sess := s.signup(t, "Pat", "pat@example.com", model.RolePatient, nil)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "pat@example.com", sess.User["email"])
	assert.NotContains(t, sess.User, "passwordHash")
	assert.NotContains(t, sess.User, "password")

	code, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "pat@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, code)
	var login session
	require.NoError(t, json.Unmarshal(env.Data, &login))

	code, env = s.do(t, http.MethodGet, "/api/v1/users/profile", login.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var profile map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, "Pat", profile["name"])
	assert.Equal(t, "patient", profile["role"])

	code, env = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "pat@example.com", "password": "wrong-one",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid credentials", env.Message)
}

func TestSignupDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "Pat", "pat@example.com", model.RolePatient, nil)

	code, env := s.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]interface{}{
		"name": "Other", "email": "pat@example.com", "password": "secret2", "role": "patient",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "Email already registered", env.Message)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/users/profile", "/api/v1/appointments"} {
		code, env := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, code, path)
		assert.Equal(t, "error", env.Status)
	}

	code, _ := s.do(t, http.MethodGet, "/api/v1/users/profile", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "Pat", "pat@example.com", model.RolePatient, nil)

	code, env := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "User not found", env.Message)

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", map[string]string{"email": "pat@example.com"})
	require.Equal(t, http.StatusOK, code)

	link := s.mailer.last()
	require.True(t, strings.HasPrefix(link, "http://example.com/reset-password/"), link)
	token := link[strings.LastIndex(link, "/")+1:]

	code, env = s.do(t, http.MethodPost, "/api/v1/auth/reset-password/"+token, "", map[string]string{"password": "brandnew"})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/auth/reset-password/"+token, "", map[string]string{"password": "again123"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Token is invalid or has expired", env.Message)

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "pat@example.com", "password": "brandnew",
	})
	assert.Equal(t, http.StatusOK, code)
}

func TestProfileUpdateRejectsDisallowedFields(t *testing.T) {
	s := newTestServer(t)
	sess := s.signup(t, "Pat", "pat@example.com", model.RolePatient, nil)

	code, env := s.do(t, http.MethodPut, "/api/v1/users/profile", sess.Token, map[string]interface{}{
		"name":  "Hacker",
		"email": "other@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid updates", env.Message)

	stored, err := s.store.Users().GetByEmail(context.Background(), "pat@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Pat", stored.Name)

	code, env = s.do(t, http.MethodPut, "/api/v1/users/profile", sess.Token, map[string]interface{}{
		"name":    "Patricia",
		"profile": map[string]interface{}{"age": 34, "gender": "female"},
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var updated map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Patricia", updated["name"])
	assert.Equal(t, "pat@example.com", updated["email"])
}

func TestAppointmentFlow(t *testing.T) {
	s := newTestServer(t)
	patient := s.signup(t, "Pat", "pat@example.com", model.RolePatient, nil)
	doctor := s.signup(t, "Dr D", "doc@example.com", model.RoleDoctor, map[string]interface{}{"specialization": "Cardiology"})
	doctorID := doctor.User["id"].(string)

	code, env := s.do(t, http.MethodGet, "/api/v1/users/doctors", "", nil)
	require.Equal(t, http.StatusOK, code)
	var doctors []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &doctors))
	require.Len(t, doctors, 1)
	assert.Equal(t, "Cardiology", doctors[0]["specialization"])

	code, _ = s.do(t, http.MethodPost, "/api/v1/appointments", doctor.Token, map[string]string{
		"doctorId": doctorID, "dateTime": "2026-05-01T09:00:00Z",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/appointments", patient.Token, map[string]string{
		"doctorId": doctorID, "dateTime": "2026-05-01T09:00:00Z", "symptoms": "fever",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "pending", created["status"])
	aptID := created["id"].(string)

	code, env = s.do(t, http.MethodPut, "/api/v1/appointments/"+aptID+"/status", doctor.Token, map[string]string{"status": "done"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPut, "/api/v1/appointments/not-an-id/status", doctor.Token, map[string]string{"status": "confirmed"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPut, "/api/v1/appointments/"+aptID+"/status", doctor.Token, map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/appointments", doctor.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "confirmed", list[0]["status"])
	assert.Equal(t, "Pat", list[0]["patient"].(map[string]interface{})["name"])
	assert.Equal(t, "Dr D", list[0]["doctor"].(map[string]interface{})["name"])
}

func multipartUpload(t *testing.T, token string, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestReportUploadAndList(t *testing.T) {
	s := newTestServer(t)
	patient := s.signup(t, "Pat", "pat@example.com", model.RolePatient, nil)
	doctor := s.signup(t, "Dr D", "doc@example.com", model.RoleDoctor, map[string]interface{}{"specialization": "Pathology"})
	fields := map[string]string{
		"doctorId":   doctor.User["id"].(string),
		"reportType": "lab",
		"date":       "2026-01-10",
		"notes":      "fasting",
	}

	code, env := s.serve(t, multipartUpload(t, patient.Token, fields, "", nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "No file uploaded", env.Message)

	code, env = s.serve(t, multipartUpload(t, patient.Token, fields, "result.txt", []byte("glucose 90")))
	require.Equal(t, http.StatusCreated, code, env.Message)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "Glucose 90 mg/dL", report["extractedText"])
	assert.Equal(t, "lab", report["reportType"])
	assert.Equal(t, "result.txt", report["fileName"])
	assert.True(t, strings.HasPrefix(report["fileUrl"].(string), "uploads/"))

	code, env = s.do(t, http.MethodGet, "/api/v1/reports/"+patient.User["id"].(string), doctor.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var reports []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "Dr D", reports[0]["doctor"].(map[string]interface{})["name"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "medilink_requests_total")
}
