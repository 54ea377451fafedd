package governance

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strings"
	"text/template"
)

// ExportFormat names an export encoding.
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
	FormatHTML     ExportFormat = "html"
)

// ParseExportFormat parses a format name; "md" is accepted for markdown.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (supported: json, markdown, html)", s)
	}
}

// ContentType returns the HTTP content type of f.
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/json"
	}
}

// Export writes r to w in format.
func Export(w io.Writer, r *Report, format ExportFormat) error {
	if r == nil || r.Snapshot == nil {
		return fmt.Errorf("nothing to export")
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatMarkdown:
		return markdownTemplate.Execute(w, r)
	case FormatHTML:
		return htmlTemplate.Execute(w, r)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

var exportFuncs = map[string]any{
	"pct": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"f2":  func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"ts":  func(r *Report) string { return r.Snapshot.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC") },
	"cell": func(s string) string {
		s = strings.ReplaceAll(s, "|", `\|`)
		return strings.ReplaceAll(s, "\n", " ")
	},
}

var markdownTemplate = template.Must(template.New("markdown").Funcs(exportFuncs).Parse(
	`# Governance Report

Generated: {{ts .}}

## Scores

| Metric | Value |
|---|---|
| Governance score | {{f2 .Snapshot.GovernanceScore}} |
| Health score | {{f2 .Snapshot.HealthScore}} |
| Quality score | {{f2 .Snapshot.QualityScore}} |
| Health status | {{.Snapshot.HealthStatus}} |

## Alerts
{{if .Snapshot.Alerts}}
| Severity | Title | Message | Action |
|---|---|---|---|
{{- range .Snapshot.Alerts}}
| {{.Severity}} | {{cell .Title}} | {{cell .Message}} | {{cell .Action}} |
{{- end}}
{{else}}
No alerts.
{{end}}
## Priority actions
{{if .Snapshot.PriorityActions}}
| Priority | Action | Effort | Details |
|---|---|---|---|
{{- range .Snapshot.PriorityActions}}
| {{.Priority}} | {{cell .Action}} | {{.EstimatedEffort}} | {{cell .Description}} |
{{- end}}
{{else}}
No actions.
{{end}}
## Coverage

- Overall coverage: {{pct .Coverage.OverallCoverage}}
- Known topics: {{.Coverage.KnownTopics}}
- Observed topics: {{.Coverage.ObservedTopics}}
- Well covered topics: {{.Coverage.WellCoveredTopics}}
- Poorly covered topics: {{.Coverage.PoorlyCoveredTopics}}
{{if .Coverage.CoverageGaps}}
| Topic | Score | Queries | Severity |
|---|---|---|---|
{{- range .Coverage.CoverageGaps}}
| {{cell .Topic}} | {{f2 .Score}} | {{.QueryCount}} | {{.Severity}} |
{{- end}}
{{end}}
## Sources

- Total sources: {{.Sources.TotalSources}}
- Active sources: {{.Sources.ActiveSources}}
- High value sources: {{len .Sources.HighValueSources}}
- Obsolete sources: {{len .Sources.ObsoleteSources}}
{{if .Sources.TopSources}}
| Source | Category | Accesses |
|---|---|---|
{{- range .Sources.TopSources}}
| {{cell .SourceID}} | {{cell .Category}} | {{.AccessCount}} |
{{- end}}
{{end}}
## Obsolescence

- Sources scanned: {{.Obsolescence.TotalSourcesScanned}}
- Sources with issues: {{.Obsolescence.SourcesWithIssues}}
- Detections: {{.Obsolescence.TotalDetections}}
{{if .Obsolescence.ByRule}}
| Rule | Severity | Count |
|---|---|---|
{{- range .Obsolescence.ByRule}}
| {{.RuleID}} | {{.Severity}} | {{.Count}} |
{{- end}}
{{end}}
## Recommendations
{{range .Snapshot.Recommendations}}
- {{.}}
{{- else}}
No recommendations.
{{- end}}
`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Funcs(htmltemplate.FuncMap(exportFuncs)).Parse(
	`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Governance Report</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #ccc; padding: .3rem .6rem; text-align: left; }
.critical { color: #b00020; } .high { color: #d35400; } .warning, .medium { color: #b7950b; }
</style>
</head>
<body>
<h1>Governance Report</h1>
<p>Generated: {{ts .}}</p>

<h2>Scores</h2>
<table>
<tr><th>Governance score</th><td>{{f2 .Snapshot.GovernanceScore}}</td></tr>
<tr><th>Health score</th><td>{{f2 .Snapshot.HealthScore}}</td></tr>
<tr><th>Quality score</th><td>{{f2 .Snapshot.QualityScore}}</td></tr>
<tr><th>Health status</th><td>{{.Snapshot.HealthStatus}}</td></tr>
</table>

<h2>Alerts</h2>
{{if .Snapshot.Alerts}}<table>
<tr><th>Severity</th><th>Title</th><th>Message</th><th>Action</th></tr>
{{range .Snapshot.Alerts}}<tr class="{{.Severity}}"><td>{{.Severity}}</td><td>{{.Title}}</td><td>{{.Message}}</td><td>{{.Action}}</td></tr>
{{end}}</table>{{else}}<p>No alerts.</p>{{end}}

<h2>Priority actions</h2>
{{if .Snapshot.PriorityActions}}<table>
<tr><th>Priority</th><th>Action</th><th>Effort</th><th>Details</th></tr>
{{range .Snapshot.PriorityActions}}<tr class="{{.Priority}}"><td>{{.Priority}}</td><td>{{.Action}}</td><td>{{.EstimatedEffort}}</td><td>{{.Description}}</td></tr>
{{end}}</table>{{else}}<p>No actions.</p>{{end}}

<h2>Coverage</h2>
<p>Overall coverage {{pct .Coverage.OverallCoverage}}, {{.Coverage.WellCoveredTopics}} well covered and {{.Coverage.PoorlyCoveredTopics}} poorly covered of {{.Coverage.KnownTopics}} known topics.</p>
{{if .Coverage.CoverageGaps}}<table>
<tr><th>Topic</th><th>Score</th><th>Queries</th><th>Severity</th></tr>
{{range .Coverage.CoverageGaps}}<tr class="{{.Severity}}"><td>{{.Topic}}</td><td>{{f2 .Score}}</td><td>{{.QueryCount}}</td><td>{{.Severity}}</td></tr>
{{end}}</table>{{end}}

<h2>Sources</h2>
<p>{{.Sources.TotalSources}} sources, {{.Sources.ActiveSources}} active, {{len .Sources.HighValueSources}} high value, {{len .Sources.ObsoleteSources}} obsolete.</p>

<h2>Obsolescence</h2>
<p>{{.Obsolescence.TotalDetections}} detections in {{.Obsolescence.SourcesWithIssues}} of {{.Obsolescence.TotalSourcesScanned}} scanned sources.</p>
{{if .Obsolescence.ByRule}}<table>
<tr><th>Rule</th><th>Severity</th><th>Count</th></tr>
{{range .Obsolescence.ByRule}}<tr class="{{.Severity}}"><td>{{.RuleID}}</td><td>{{.Severity}}</td><td>{{.Count}}</td></tr>
{{end}}</table>{{end}}

<h2>Recommendations</h2>
<ul>
{{range .Snapshot.Recommendations}}<li>{{.}}</li>
{{end}}</ul>
</body>
</html>
`))
