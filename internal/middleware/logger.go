package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxLoggedBody = 2 << 10

// LoggerConfig controls request logging.
type LoggerConfig struct {
	// LogBodies includes JSON request bodies at debug level.
	LogBodies bool
	// SensitivePrefixes are path prefixes whose bodies are never logged.
	SensitivePrefixes []string
}

func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		SensitivePrefixes: []string{"/api/v1/auth", "/api/v1/reports"},
	}
}

// Logger returns a middleware that logs HTTP requests
func Logger(config LoggerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		var requestBody []byte
		if config.LogBodies && bodyLoggable(c, config.SensitivePrefixes) {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody))
			c.Request.Body = readCloser{
				Reader: io.MultiReader(bytes.NewReader(requestBody), c.Request.Body),
				Closer: c.Request.Body,
			}
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		var event *zerolog.Event
		msg := "Request processed"
		switch {
		case statusCode >= 500:
			event = log.Error()
			msg = "Server error"
		case statusCode >= 400:
			event = log.Warn()
			msg = "Client error"
		default:
			event = log.Info()
		}

		event.
			Str("request_id", c.GetString(ContextRequestID)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent())

		if user, ok := CurrentUser(c); ok {
			event.Str("user_id", user.ID.String())
		}
		if len(requestBody) > 0 && zerolog.GlobalLevel() <= zerolog.DebugLevel {
			event.Bytes("request", requestBody)
		}

		event.Msg(msg)
	}
}

func bodyLoggable(c *gin.Context, sensitive []string) bool {
	if c.Request.Body == nil || c.Request.Method == "GET" {
		return false
	}
	if !strings.HasPrefix(c.ContentType(), "application/json") {
		return false
	}
	for _, prefix := range sensitive {
		if strings.HasPrefix(c.Request.URL.Path, prefix) {
			return false
		}
	}
	return true
}

type readCloser struct {
	io.Reader
	io.Closer
}
