//go:build !ocr_tesseract

package ocr

import (
	"context"
	"errors"
	"image"
)

var ErrNoBackend = errors.New("ocr: no recognizer backend linked; build with -tags=ocr_tesseract or configure a backend")

type defaultBackend struct{}

func newDefaultBackend() (Backend, error) { return &defaultBackend{}, nil }

func (d *defaultBackend) Recognize(_ context.Context, _ image.Image, _ Options) (string, error) {
	return "", ErrNoBackend
}
