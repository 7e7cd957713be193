package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanTranscript(t *testing.T) {
	assert.Equal(t, "NCF: B0100000123", cleanTranscript("```text\nNCF: B0100000123\n```"))
	assert.Equal(t, "RNC 123456789", cleanTranscript("  RNC 123456789 \n"))
	assert.Equal(t, "", cleanTranscript("```\n```"))
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "png", imageFormat("image/png"))
	assert.Equal(t, "jpeg", imageFormat("image/jpeg"))
	assert.Equal(t, "jpeg", imageFormat(""))
}

func TestTextRecognizer(t *testing.T) {
	rec := NewText(0.85)
	ctx := context.Background()

	res, err := rec.Recognize(ctx, []byte("NCF: B0100000123"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "NCF: B0100000123", res.Text)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)

	_, err = rec.Recognize(ctx, []byte("   \n"), "text/plain")
	assert.ErrorIs(t, err, ErrNoText)

	_, err = rec.Recognize(ctx, []byte{0xff, 0xd8}, "image/jpeg")
	assert.Error(t, err)

	_, err = rec.Recognize(ctx, []byte{0xff, 0xfe}, "")
	assert.ErrorContains(t, err, "UTF-8")
}

func TestOpenAIRecognizer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "`+"```"+`\nFACTURA\nNCF: B0100000123\n`+"```"+`"},
				"finish_reason": "stop"
			}]
		}`)
	}))
	defer srv.Close()

	rec, err := NewOpenAI("sk-test", srv.URL, "", 0.8)
	require.NoError(t, err)

	res, err := rec.Recognize(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "FACTURA\nNCF: B0100000123", res.Text)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	raw, _ := json.Marshal(body["messages"])
	assert.Contains(t, string(raw), "data:image/png;base64,")
}

func TestOpenAIRecognizerEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()

	rec, err := NewOpenAI("sk-test", srv.URL, "gpt-4o", 0.8)
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), []byte("img"), "image/jpeg")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestNewRequiresKeys(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Options{Engine: EngineGemini}, nil)
	assert.ErrorContains(t, err, "gemini api key is required")

	_, err = New(ctx, Options{Engine: EngineOpenAI}, nil)
	assert.ErrorContains(t, err, "openai api key is required")

	_, err = New(ctx, Options{Engine: "tesseract"}, nil)
	assert.ErrorContains(t, err, "unknown ocr engine")

	rec, err := New(ctx, Options{Engine: EngineText, Confidence: 1, Preprocess: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "text", rec.Name())

	rec, err = New(ctx, Options{Engine: EngineOpenAI, OpenAIAPIKey: "k", Preprocess: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai+preprocess", rec.Name())
}

type recordingRecognizer struct {
	gotType string
	gotData []byte
	err     error
}

func (r *recordingRecognizer) Name() string { return "fake" }

func (r *recordingRecognizer) Recognize(_ context.Context, data []byte, contentType string) (Result, error) {
	r.gotType, r.gotData = contentType, data
	return Result{Text: "ok", Confidence: 0.5}, r.err
}

func TestPreprocessedWithoutImageMagick(t *testing.T) {
	next := &recordingRecognizer{}
	rec := WithPreprocessing(next, &Preprocessor{})

	res, err := rec.Recognize(context.Background(), []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	// without ImageMagick the original image goes through unchanged
	assert.Equal(t, "image/png", next.gotType)
	assert.Equal(t, []byte("png-bytes"), next.gotData)

	_, err = rec.Recognize(context.Background(), []byte("texto"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", next.gotType)
}

type closingRecognizer struct {
	recordingRecognizer
	closed bool
}

func (c *closingRecognizer) Close() error {
	c.closed = true
	return nil
}

func TestPreprocessedForwardsClose(t *testing.T) {
	next := &closingRecognizer{}
	var rec Recognizer = WithPreprocessing(next, &Preprocessor{})

	c, ok := rec.(io.Closer)
	require.True(t, ok)
	require.NoError(t, c.Close())
	assert.True(t, next.closed)

	// wrapped recognizers without resources close cleanly
	assert.NoError(t, WithPreprocessing(&recordingRecognizer{}, &Preprocessor{}).Close())
}

func TestPreprocessorAvailability(t *testing.T) {
	assert.False(t, WithPreprocessing(&recordingRecognizer{}, &Preprocessor{}).PreprocessorAvailable())
	assert.True(t, WithPreprocessing(&recordingRecognizer{}, &Preprocessor{bin: "/usr/bin/magick"}).PreprocessorAvailable())
}

func TestPreprocessedWrapsErrors(t *testing.T) {
	next := &recordingRecognizer{err: errors.New("quota exceeded")}
	_, err := WithPreprocessing(next, &Preprocessor{}).Recognize(context.Background(), []byte("x"), "image/jpeg")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "fake: "))
}
