package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

type HTTPConfig struct {
	// Endpoint receives a multipart POST with the document in field "file".
	Endpoint string
	Timeout  time.Duration
	// Breaker settings; zero values fall back to defaults.
	MaxFailures  uint32
	OpenDuration time.Duration
}

type HTTPExtractor struct {
	endpoint string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
}

type extractResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewHTTPExtractor(cfg HTTPConfig) *HTTPExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}

	maxFailures := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ocr-extractor",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})

	return &HTTPExtractor{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		cb:       cb,
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	result, err := e.cb.Execute(func() (interface{}, error) {
		return e.do(ctx, doc)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (e *HTTPExtractor) do(ctx context.Context, doc Document) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", doc.FileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(doc.Content); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("OCR service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode OCR response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("OCR service error: %s", result.Error)
	}
	return result.Text, nil
}
