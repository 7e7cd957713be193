package ocr

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Text treats the upload itself as the OCR output. It serves text/plain
// uploads and transcriptions produced elsewhere.
type Text struct {
	confidence float64
}

// NewText creates a passthrough recognizer reporting confidence.
func NewText(confidence float64) *Text {
	return &Text{confidence: confidence}
}

func (t *Text) Name() string { return "text" }

func (t *Text) Recognize(_ context.Context, data []byte, contentType string) (Result, error) {
	if contentType != "" && !strings.HasPrefix(contentType, "text/") {
		return Result{}, fmt.Errorf("text recognizer cannot read %s", contentType)
	}
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("text recognizer: input is not valid UTF-8")
	}
	if strings.TrimSpace(string(data)) == "" {
		return Result{}, ErrNoText
	}
	return Result{Text: string(data), Confidence: t.confidence}, nil
}
