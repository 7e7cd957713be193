package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoText is returned when a recognizer produced nothing usable.
var ErrNoText = errors.New("no text recognized")

// Result is the text read from one image and the engine's confidence in it.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer turns an invoice image into plain text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, contentType string) (Result, error)
	Name() string
}

// transcriptionPrompt asks a vision model for a verbatim transcription, not
// an interpretation; field extraction happens downstream.
const transcriptionPrompt = `Transcribe el texto de esta factura dominicana exactamente como aparece.
- Conserva los saltos de línea y el orden de lectura (de arriba hacia abajo, de izquierda a derecha).
- No corrijas, no resumas, no traduzcas y no agregues comentarios.
- Copia números, NCF, RNC, fechas y montos tal como están impresos.
- Responde solo con el texto, sin formato markdown.`

// cleanTranscript strips the markdown fences some models wrap around text.
func cleanTranscript(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```plaintext")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// imageFormat maps a MIME type to the short format name vision APIs expect.
func imageFormat(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/heic":
		return "heic"
	default:
		return "jpeg"
	}
}

// Engines understood by New.
const (
	EngineGemini = "gemini"
	EngineOpenAI = "openai"
	EngineText   = "text"
)

// Options select and configure a recognizer.
type Options struct {
	Engine        string
	Confidence    float64
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	Preprocess    bool
}

// New builds the recognizer for opts.Engine. Preprocessing applies only to
// the vision engines.
func New(ctx context.Context, opts Options, logger *slog.Logger) (Recognizer, error) {
	var (
		rec Recognizer
		err error
	)
	switch opts.Engine {
	case EngineGemini:
		rec, err = NewGemini(ctx, opts.GeminiAPIKey, opts.GeminiModel, opts.Confidence)
	case EngineOpenAI:
		rec, err = NewOpenAI(opts.OpenAIAPIKey, opts.OpenAIBaseURL, opts.OpenAIModel, opts.Confidence)
	case EngineText:
		return NewText(opts.Confidence), nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", opts.Engine)
	}
	if err != nil {
		return nil, err
	}
	if opts.Preprocess {
		pre := NewPreprocessor(logger)
		if !pre.Available() {
			logger.Warn("ocr.preprocess.unavailable", "reason", "ImageMagick not found, images are sent unchanged")
		}
		rec = WithPreprocessing(rec, pre)
	}
	return rec, nil
}
