// Package export renders a mind map as a downloadable file, either
// raw JSON or a PDF outline produced by headless Chrome.
package export

import "errors"

type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

var (
	ErrUnsupportedFormat    = errors.New("unsupported export format")
	ErrPDFDependencyMissing = errors.New("pdf export unavailable")
)

// Result is a rendered export ready to stream to the client.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}
