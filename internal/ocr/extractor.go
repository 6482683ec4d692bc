// Package ocr turns uploaded report files into plain text.
package ocr

import (
	"context"
)

// Extractor returns the text found in a document. Implementations must
// honour ctx cancellation.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (string, error)
}

type Document struct {
	FileName    string
	ContentType string
	Content     []byte
}

// NoopExtractor is used when no OCR service is configured.
type NoopExtractor struct{}

func (NoopExtractor) Extract(ctx context.Context, doc Document) (string, error) {
	return "", nil
}
