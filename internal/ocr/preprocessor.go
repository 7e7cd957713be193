package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// Preprocessor handles image preprocessing for optimal OCR/AI results.
// It shells out to ImageMagick and falls back to the original bytes when
// ImageMagick is missing or fails.
type Preprocessor struct {
	bin    string
	logger *slog.Logger
}

// NewPreprocessor looks up ImageMagick ('magick' first, then 'convert').
func NewPreprocessor(logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Preprocessor{logger: logger}
	for _, name := range []string{"magick", "convert"} {
		if path, err := exec.LookPath(name); err == nil {
			p.bin = path
			break
		}
	}
	return p
}

// Available reports whether ImageMagick was found.
func (p *Preprocessor) Available() bool { return p.bin != "" }

// Enhance applies resize, grayscale, contrast, denoise and sharpen filters.
// Pipeline: resize (if too large) -> grayscale -> contrast -> denoise -> sharpen
func (p *Preprocessor) Enhance(ctx context.Context, imageData []byte) []byte {
	if p.bin == "" {
		return imageData
	}

	dir, err := os.MkdirTemp("", "lector-ncf-*")
	if err != nil {
		return imageData
	}
	defer os.RemoveAll(dir)

	inputFile := filepath.Join(dir, "input")
	outputFile := filepath.Join(dir, "output.jpg")
	if err := os.WriteFile(inputFile, imageData, 0o600); err != nil {
		return imageData
	}

	args := []string{
		inputFile,
		"-resize", "2000x2000>",
		"-colorspace", "Gray",
		"-normalize",
		"-contrast-stretch", "2%x1%",
		"-despeckle",
		"-sharpen", "0x1",
		"-unsharp", "0x0.5+0.5+0",
		"-quality", "95",
		outputFile,
	}

	cmd := exec.CommandContext(ctx, p.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		p.logger.Warn("ocr.preprocess.failed", "error", err, "stderr", stderr.String())
		return imageData
	}

	processed, err := os.ReadFile(outputFile)
	if err != nil || len(processed) == 0 {
		return imageData
	}

	p.logger.Debug("ocr.preprocess.ok", "bytes_in", len(imageData), "bytes_out", len(processed))
	return processed
}

// Preprocessed runs images through a Preprocessor before recognition.
type Preprocessed struct {
	next Recognizer
	pre  *Preprocessor
}

// WithPreprocessing wraps next. Text uploads are passed through untouched.
func WithPreprocessing(next Recognizer, pre *Preprocessor) *Preprocessed {
	return &Preprocessed{next: next, pre: pre}
}

func (p *Preprocessed) Name() string { return p.next.Name() + "+preprocess" }

// PreprocessorAvailable reports whether images are actually enhanced.
func (p *Preprocessed) PreprocessorAvailable() bool { return p.pre.Available() }

// Close releases the wrapped recognizer when it holds resources.
func (p *Preprocessed) Close() error {
	if c, ok := p.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Preprocessed) Recognize(ctx context.Context, image []byte, contentType string) (Result, error) {
	switch contentType {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
		processed := p.pre.Enhance(ctx, image)
		if !bytes.Equal(processed, image) {
			contentType = "image/jpeg"
		}
		res, err := p.next.Recognize(ctx, processed, contentType)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", p.next.Name(), err)
		}
		return res, nil
	}
	return p.next.Recognize(ctx, image, contentType)
}
