package ocr

import (
	"context"
	"image"
)

// Options controls backend recognition behavior.
type Options struct {
	// Languages passed to the engine, "eng" when empty.
	Languages []string

	// Whitelist restricts the recognized characters.
	Whitelist string

	// PageSegMode is the Tesseract page segmentation mode; 0 keeps the engine default.
	PageSegMode int
}

// DefaultOptions recognizes a single line of digits.
func DefaultOptions() Options {
	return Options{
		Languages:   []string{"eng"},
		Whitelist:   "0123456789",
		PageSegMode: 7,
	}
}

// Backend is a pluggable OCR implementation.
type Backend interface {
	Recognize(ctx context.Context, img image.Image, opts Options) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, img image.Image, opts Options) (string, error)

func (f BackendFunc) Recognize(ctx context.Context, img image.Image, opts Options) (string, error) {
	return f(ctx, img, opts)
}

// NewBackend returns the default backend implementation.
// The default build has no backend; enable specific backends via build tags.
func NewBackend() (Backend, error) { return newDefaultBackend() }
