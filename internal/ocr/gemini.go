package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Recognizer interface using Google Gemini
type Gemini struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	confidence float64
	timeout    time.Duration
}

// NewGemini creates a new Gemini recognizer. confidence is reported with
// every result since the API does not score transcriptions.
func NewGemini(ctx context.Context, apiKey, modelName string, confidence float64) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client:     client,
		model:      model,
		confidence: confidence,
		timeout:    60 * time.Second,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Recognize transcribes the image.
func (g *Gemini) Recognize(ctx context.Context, image []byte, contentType string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	parts := []genai.Part{
		genai.ImageData(imageFormat(contentType), image),
		genai.Text(transcriptionPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return Result{}, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, ErrNoText
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	text := cleanTranscript(responseText.String())
	if text == "" {
		return Result{}, ErrNoText
	}
	return Result{Text: text, Confidence: g.confidence}, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
