package ocr

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAI implements the Recognizer interface with an OpenAI-compatible
// vision chat model. BaseURL may point at any compatible proxy.
type OpenAI struct {
	client     *openai.Client
	model      string
	confidence float64
}

// NewOpenAI creates a new OpenAI recognizer.
func NewOpenAI(apiKey, baseURL, model string, confidence float64) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAI{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		confidence: confidence,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

// Recognize sends the image inline as a data URL and returns the transcription.
func (o *OpenAI) Recognize(ctx context.Context, image []byte, contentType string) (Result, error) {
	dataURL := fmt.Sprintf("data:image/%s;base64,%s", imageFormat(contentType), base64.StdEncoding.EncodeToString(image))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		MaxTokens:   2048,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: transcriptionPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, ErrNoText
	}

	text := cleanTranscript(resp.Choices[0].Message.Content)
	if text == "" {
		return Result{}, ErrNoText
	}
	return Result{Text: text, Confidence: o.confidence}, nil
}
