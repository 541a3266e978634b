//go:build ocr_tesseract

package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// ErrNoBackend is never returned when the Tesseract backend is linked.
var ErrNoBackend = errors.New("ocr: no recognizer backend linked")

// newDefaultBackend returns the gosseract-backed implementation when the build tag is enabled.
func newDefaultBackend() (Backend, error) { return &tesseractBackend{}, nil }

// tesseractBackend creates one client per call; a gosseract.Client is not
// safe for concurrent use. mu serializes calls into the engine.
type tesseractBackend struct {
	mu sync.Mutex
}

func (b *tesseractBackend) Recognize(ctx context.Context, img image.Image, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode image for ocr: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	langs := opts.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	if err := client.SetLanguage(langs...); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if opts.Whitelist != "" {
		if err := client.SetWhitelist(opts.Whitelist); err != nil {
			return "", fmt.Errorf("set whitelist: %w", err)
		}
	}
	if opts.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(opts.PageSegMode)); err != nil {
			return "", fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}
