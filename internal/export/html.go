package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"mindloom/api/internal/store"
	"mindloom/api/internal/task"
)

const mapTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2em; color: #1a1a1a; }
  h1 { font-size: 1.6em; margin-bottom: 0.2em; }
  .meta { color: #666; font-size: 0.85em; margin-bottom: 1.5em; }
  .node { border-left: 3px solid #4a7dff; padding: 0.4em 0 0.4em 0.8em; margin: 0.6em 0; }
  .node .label { font-weight: 600; }
  .task { font-size: 0.85em; color: #444; margin-top: 0.2em; }
  .task .status { text-transform: uppercase; letter-spacing: 0.05em; }
  .edges { margin-top: 1.5em; }
  .edges h2 { font-size: 1.1em; }
  .edge { font-size: 0.9em; color: #555; margin: 0.2em 0; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="meta">{{.Description}}{{if .Description}} &middot; {{end}}{{.NodeCount}} nodes, exported {{.ExportedAt}}</div>
{{range .Nodes}}<div class="node">
  <div class="label">{{.Label}}</div>
  {{if .HasTask}}<div class="task"><span class="status">{{.TaskStatus}}</span> &middot; {{.TaskProgress}}%{{if .TaskAssignee}} &middot; {{.TaskAssignee}}{{end}}</div>{{end}}
</div>
{{end}}{{if .Edges}}<div class="edges">
<h2>Connections</h2>
{{range .Edges}}<div class="edge">{{.From}} &rarr; {{.To}}{{if .Label}} ({{.Label}}){{end}}</div>
{{end}}</div>{{end}}
</body>
</html>`

var mapTmpl = template.Must(template.New("map").Parse(mapTemplate))

type nodeView struct {
	Label        string
	HasTask      bool
	TaskStatus   task.Status
	TaskProgress int
	TaskAssignee string
}

type edgeView struct {
	From, To, Label string
}

type mapView struct {
	Title       string
	Description string
	NodeCount   int
	ExportedAt  string
	Nodes       []nodeView
	Edges       []edgeView
}

// renderHTML builds the printable outline: every node with its task
// summary, then the edge list with labels resolved to node labels.
func renderHTML(m store.MindMap) (string, error) {
	labels := make(map[string]string, len(m.Nodes))
	view := mapView{
		Title:       m.Title,
		Description: m.Description,
		NodeCount:   len(m.Nodes),
		ExportedAt:  time.Now().UTC().Format("2006-01-02 15:04 UTC"),
	}
	for _, n := range m.Nodes {
		labels[n.ID] = n.Data.Label
		nv := nodeView{Label: n.Data.Label}
		if t := n.Data.Task; t != nil {
			nv.HasTask = true
			nv.TaskStatus = t.Status
			nv.TaskProgress = t.Progress
			nv.TaskAssignee = t.AssignedTo
		}
		view.Nodes = append(view.Nodes, nv)
	}
	for _, e := range m.Edges {
		from, to := labels[e.Source], labels[e.Target]
		if from == "" {
			from = e.Source
		}
		if to == "" {
			to = e.Target
		}
		view.Edges = append(view.Edges, edgeView{From: from, To: to, Label: e.Label})
	}

	var buf bytes.Buffer
	if err := mapTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render map html: %w", err)
	}
	return buf.String(), nil
}
