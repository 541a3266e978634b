// Package ocr provides a pluggable text recognizer used to confirm meter
// readings on masked still images.
//
// The default build has no concrete backend so that cgo and the Tesseract
// libraries stay optional. Enable the gosseract-backed recognizer with the
// build tag `ocr_tesseract`.
//
// Example:
//
//	go build -tags=ocr_tesseract ./...
package ocr
