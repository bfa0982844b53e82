package export

import (
	"context"
	"encoding/json"
	"fmt"

	"mindloom/api/internal/store"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export renders the map in the requested format.
func (s *Service) Export(ctx context.Context, m store.MindMap, format Format) (*Result, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal mindmap: %w", err)
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(m.Title) + ".json",
			MimeType: "application/json",
		}, nil
	case FormatPDF:
		html, err := renderHTML(m)
		if err != nil {
			return nil, err
		}
		data, err := renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(m.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
