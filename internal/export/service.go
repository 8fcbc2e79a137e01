package export

import (
	"context"
	"fmt"

	"sdlcboard/api/internal/workflow"
)

type pdfRenderer func(ctx context.Context, html, title string) (*Result, error)

// Service renders board exports.
type Service struct {
	renderPDF pdfRenderer
}

// NewService creates an export service printing PDFs with the first
// Chromium or Chrome found on PATH.
func NewService() *Service {
	return NewServiceWithPDF(PDFOptions{})
}

func NewServiceWithPDF(opts PDFOptions) *Service {
	return &Service{renderPDF: newChromePrinter(opts).Print}
}

// Export renders doc in the requested format.
func (s *Service) Export(ctx context.Context, doc *workflow.Document, req Request) (*Result, error) {
	data := BuildTemplateData(doc, req.Title)
	html, err := RenderBoardHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.renderPDF(ctx, html, data.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
