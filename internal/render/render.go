// Package render turns the first page of a PDF into a PNG thumbnail.
package render

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// ErrUnavailable means no renderer is configured. Publishing treats it as
// "no thumbnail" rather than a failure.
var ErrUnavailable = errors.New("render: thumbnail renderer unavailable")

var (
	pdfMagic = []byte("%PDF-")
	pngMagic = []byte("\x89PNG\r\n\x1a\n")
)

// Renderer renders a thumbnail for a PDF.
type Renderer interface {
	Thumbnail(ctx context.Context, pdf io.Reader) ([]byte, error)
}

// IsPDF reports whether b starts with the PDF header.
func IsPDF(b []byte) bool {
	return bytes.HasPrefix(b, pdfMagic)
}

// IsPNG reports whether b starts with the PNG signature.
func IsPNG(b []byte) bool {
	return bytes.HasPrefix(b, pngMagic)
}

// Disabled is the Renderer used when Docker is not available.
type Disabled struct{}

func (Disabled) Thumbnail(context.Context, io.Reader) ([]byte, error) {
	return nil, ErrUnavailable
}
