package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var threadTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/thread.html")
	if err != nil {
		// Fallback to built-in template if file not found
		threadTemplate = template.Must(template.New("thread").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	threadTemplate = template.Must(template.New("thread").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for thread template rendering
type TemplateData struct {
	Title       string
	URI         string
	Total       int
	GeneratedAt time.Time
	Nodes       []TemplateNode
}

// TemplateNode is one rendered thread node. Children carry the projected
// order; a collapsed node renders a reply count instead of its children.
type TemplateNode struct {
	ID         string
	User       string
	Text       string
	Created    time.Time
	Depth      int
	Collapsed  bool
	Highlight  string
	Missing    bool
	ReplyCount int
	Children   []TemplateNode
}

// RenderThreadHTML renders the thread template with provided data
func RenderThreadHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := threadTemplate.Execute(&buf, data); err != nil {
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
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .node { padding: 0.5rem 0 0.5rem 1rem; border-left: 2px solid #ddd; margin: 0.5rem 0; }
    .node.highlight { background: #fff8dc; }
    .node.dim { opacity: 0.5; }
    .node.missing { font-style: italic; color: #999; }
    .collapsed { color: #666; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.URI}} | {{.Total}} annotations | {{formatDate .GeneratedAt "Jan 2, 2006"}}</div>
  {{range .Nodes}}{{template "node" .}}{{end}}
</body>
</html>
{{define "node"}}
<div class="node{{if .Missing}} missing{{end}}{{if .Highlight}} {{.Highlight}}{{end}}">
  {{if .Missing}}
  <p>[missing annotation {{.ID}}]</p>
  {{else}}
  <strong>{{.User}}</strong> <span class="meta">{{formatDate .Created "Jan 2, 2006 15:04"}}</span>
  <p>{{.Text}}</p>
  {{end}}
  {{if .Collapsed}}
  {{if gt .ReplyCount 0}}<div class="collapsed">{{.ReplyCount}} hidden replies</div>{{end}}
  {{else}}
  {{range .Children}}{{template "node" .}}{{end}}
  {{end}}
</div>
{{end}}`
