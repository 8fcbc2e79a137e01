package export

import (
	"bytes"
	"embed"
	"html/template"
	"sort"
	"strings"
	"time"

	"sdlcboard/api/internal/workflow"
)

//go:embed templates/*.html
var templateFS embed.FS

var boardTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"join": strings.Join,
		"formatDate": func(t time.Time, layout string) string {
			if t.IsZero() {
				return "never"
			}
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/board.html")
	if err != nil {
		// Fallback to built-in template if file not found
		boardTemplate = template.Must(template.New("board").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	boardTemplate = template.Must(template.New("board").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for board template rendering
type TemplateData struct {
	Title   string
	Version string
	Summary Summary
	Phases  []TemplatePhase
}

// Summary is the data summary block at the top of the board.
type Summary struct {
	TotalPhases     int
	TotalCategories int
	TotalItems      int
	LastUpdated     time.Time
	PhasesWithData  int
}

// TemplatePhase holds phase data for template
type TemplatePhase struct {
	Name        string
	Number      int
	Description string
	UserStory   string
	Ownership   []string
	Categories  []TemplateCategory
}

// TemplateCategory holds category data for template
type TemplateCategory struct {
	Name  string
	Items []string
}

// BuildTemplateData lays doc out in phase order. The summary counts what
// the board actually holds rather than the stored metadata totals.
func BuildTemplateData(doc *workflow.Document, title string) TemplateData {
	if strings.TrimSpace(title) == "" {
		title = "SDLC Workflow"
	}
	data := TemplateData{Title: title, Phases: []TemplatePhase{}}
	if doc == nil {
		return data
	}

	totals := doc.Totals()
	data.Summary = Summary{
		TotalPhases:     totals.Phases,
		TotalCategories: totals.Categories,
		TotalItems:      totals.Items,
	}
	if doc.Metadata != nil {
		data.Version = doc.Metadata.Version
		data.Summary.LastUpdated = doc.Metadata.LastAutoSave
		if doc.Metadata.LastModified.After(data.Summary.LastUpdated) {
			data.Summary.LastUpdated = doc.Metadata.LastModified
		}
	}

	for _, name := range doc.PhaseNames() {
		phase := doc.Phases[name]
		out := TemplatePhase{
			Name:       name,
			Number:     phase.Number(),
			Ownership:  phase.Ownership,
			Categories: []TemplateCategory{},
		}
		if phase.Description != nil {
			out.Description = *phase.Description
		}
		if phase.UserStory != nil {
			out.UserStory = *phase.UserStory
		}

		categories := make([]string, 0, len(phase.Categories))
		for category := range phase.Categories {
			categories = append(categories, category)
		}
		sort.Strings(categories)

		items := 0
		for _, category := range categories {
			out.Categories = append(out.Categories, TemplateCategory{
				Name:  category,
				Items: phase.Categories[category].Items,
			})
			items += phase.Categories[category].ItemCount()
		}
		if items > 0 {
			data.Summary.PhasesWithData++
		}
		data.Phases = append(data.Phases, out)
	}
	return data
}

// RenderBoardHTML renders the board template with provided data
func RenderBoardHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="data-summary">
    <p>Total Phases: {{.Summary.TotalPhases}}</p>
    <p>Total Items: {{.Summary.TotalItems}}</p>
    <p>Last Updated: {{formatDate .Summary.LastUpdated "Jan 2, 2006 15:04 MST"}}</p>
    <p>Phases with Data: {{.Summary.PhasesWithData}}</p>
  </div>
  {{range .Phases}}<h3>{{.Name}}</h3>
  {{range .Categories}}<p>{{.Name}}: {{join .Items ", "}}</p>{{end}}{{end}}
</body>
</html>`
