package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sdlcboard/api/internal/workflow"
)

func boardFixture() *workflow.Document {
	description := "Verify the build"
	doc := workflow.New("1.3", map[string]workflow.Phase{
		"Testing": {
			Description: &description,
			Ownership:   []string{"QA", "Dev"},
			Categories: map[string]workflow.Category{
				"Unit Tests":   {Items: []string{"merge <edge> cases", "store"}},
				"Manual Tests": {},
			},
		},
		"Coding": {
			Categories: map[string]workflow.Category{},
		},
	}, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC))
	doc.Metadata.LastAutoSave = time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	return doc
}

func TestBuildTemplateData(t *testing.T) {
	data := BuildTemplateData(boardFixture(), "")

	if data.Title != "SDLC Workflow" || data.Version != "1.3" {
		t.Fatalf("unexpected header %q %q", data.Title, data.Version)
	}
	want := Summary{
		TotalPhases:     2,
		TotalCategories: 2,
		TotalItems:      2,
		LastUpdated:     time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC),
		PhasesWithData:  1,
	}
	if data.Summary != want {
		t.Fatalf("Summary = %+v, want %+v", data.Summary, want)
	}
	if len(data.Phases) != 2 || data.Phases[0].Name != "Coding" || data.Phases[1].Name != "Testing" {
		t.Fatalf("unexpected phase order: %+v", data.Phases)
	}
	phase := data.Phases[1]
	if phase.Number != 10 || phase.Description != "Verify the build" {
		t.Fatalf("unexpected testing phase: %+v", phase)
	}
	if phase.Categories[0].Name != "Manual Tests" || phase.Categories[1].Name != "Unit Tests" {
		t.Fatalf("categories not sorted: %+v", phase.Categories)
	}
}

func TestBuildTemplateDataNilDocument(t *testing.T) {
	data := BuildTemplateData(nil, "Team Board")
	if data.Title != "Team Board" || len(data.Phases) != 0 {
		t.Fatalf("unexpected data %+v", data)
	}
}

func TestRenderBoardHTML(t *testing.T) {
	html, err := RenderBoardHTML(BuildTemplateData(boardFixture(), "Team Board"))
	if err != nil {
		t.Fatalf("RenderBoardHTML() error = %v", err)
	}

	for _, want := range []string{
		"<title>Team Board</title>",
		"Data Summary",
		"<strong>Total Phases:</strong> 2",
		"<strong>Total Items:</strong> 2",
		"<strong>Phases with Data:</strong> 1",
		"Mar 15, 2025 08:00 UTC",
		"Ownership: QA, Dev",
		"Unit Tests:",
		"No categories",
		"No items",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}

	// Item text is escaped.
	if strings.Contains(html, "merge <edge> cases") {
		t.Error("item text should be escaped")
	}
	if !strings.Contains(html, "merge &lt;edge&gt; cases") {
		t.Error("escaped item text missing")
	}
}

func TestServiceExportHTML(t *testing.T) {
	result, err := NewService().Export(context.Background(), boardFixture(), Request{Format: FormatHTML, Title: "Team Board"})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Team-Board.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("unexpected result metadata %q %q", result.Filename, result.MimeType)
	}
	if !strings.Contains(string(result.Data), "Data Summary") {
		t.Fatal("expected rendered board")
	}
}

func TestServiceExportPDFUsesRenderer(t *testing.T) {
	svc := &Service{renderPDF: func(_ context.Context, html, title string) (*Result, error) {
		if !strings.Contains(html, "Data Summary") {
			t.Fatalf("renderer received unexpected html")
		}
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}}

	result, err := svc.Export(context.Background(), boardFixture(), Request{Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "SDLC-Workflow.pdf" {
		t.Fatalf("unexpected filename %q", result.Filename)
	}
}

func TestServiceExportUnsupportedFormat(t *testing.T) {
	_, err := NewService().Export(context.Background(), boardFixture(), Request{Format: "docx"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatHTML, false},
		{"html", FormatHTML, false},
		{"pdf", FormatPDF, false},
		{"docx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.input, got, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"SDLC Workflow v1.2", "SDLC-Workflow-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "board"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPDFWithoutBrowser(t *testing.T) {
	svc := NewServiceWithPDF(PDFOptions{ExecPath: "/nonexistent/chromium"})

	_, err := svc.Export(context.Background(), boardFixture(), Request{Format: FormatPDF})
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}
