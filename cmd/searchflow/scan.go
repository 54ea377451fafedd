package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/config"
	"github.com/BaSui01/searchflow/governance"
	"github.com/BaSui01/searchflow/rag/loader"
)

// =============================================================================
// 🔎 scan command
// =============================================================================

// scanOptions are the flags of "searchflow scan".
type scanOptions struct {
	CorpusPath string
	RulesFile  string
	Format     string
	Workers    int
	NoColor    bool
}

func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	opts := scanOptions{}
	fs.StringVar(&opts.CorpusPath, "corpus", "", "Path to a JSON, JSONL or CSV corpus file")
	fs.StringVar(&opts.RulesFile, "rules", "", "Optional YAML file with extra obsolescence rules")
	fs.StringVar(&opts.Format, "format", "text", "Output format: text, json, markdown, html")
	fs.IntVar(&opts.Workers, "workers", 4, "Concurrent scan workers")
	fs.BoolVar(&opts.NoColor, "no-color", false, "Disable colored text output")
	_ = fs.Parse(args)

	if opts.CorpusPath == "" {
		fmt.Fprintln(os.Stderr, "scan: --corpus is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	failing, err := scanCorpus(ctx, os.Stdout, opts, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}
	if failing {
		os.Exit(3)
	}
}

// scanCorpus scans the corpus at opts.CorpusPath and writes the result to w.
// It reports whether critical issues were found.
func scanCorpus(ctx context.Context, w io.Writer, opts scanOptions, logger *zap.Logger) (bool, error) {
	items, err := loader.LoadCorpus(ctx, opts.CorpusPath)
	if err != nil {
		return false, err
	}

	cfg := config.DefaultGovernanceConfig()
	cfg.RulesFile = opts.RulesFile
	if opts.Workers > 0 {
		cfg.ScanWorkers = opts.Workers
	}
	svc, err := governance.NewService(cfg, nil, nil, logger)
	if err != nil {
		return false, err
	}
	svc.Ingest(items)
	if _, err := svc.Scan(ctx, items); err != nil {
		return false, err
	}

	report := svc.Dashboard.Build()
	critical := report.Obsolescence.CriticalIssues() > 0

	if opts.Format == "" || opts.Format == "text" {
		printScanSummary(w, len(items), report.Obsolescence, opts.NoColor)
		return critical, nil
	}
	format, err := governance.ParseExportFormat(opts.Format)
	if err != nil {
		return false, err
	}
	return critical, governance.Export(w, report, format)
}

// printScanSummary renders an obsolescence report for a terminal.
func printScanSummary(w io.Writer, items int, rep *governance.ObsolescenceReport, noColor bool) {
	bold := color.New(color.Bold)
	ok := color.New(color.FgGreen)
	if noColor {
		bold.DisableColor()
		ok.DisableColor()
	}

	bold.Fprintf(w, "Scanned %d items from %d sources\n", items, rep.TotalSourcesScanned)
	if rep.TotalDetections == 0 {
		ok.Fprintln(w, "No obsolete content found")
		return
	}
	fmt.Fprintf(w, "%d detections in %d sources\n\n", rep.TotalDetections, rep.SourcesWithIssues)

	bold.Fprintln(w, "By severity")
	for _, sev := range []governance.Severity{
		governance.SeverityCritical, governance.SeverityHigh, governance.SeverityMedium,
		governance.SeverityLow, governance.SeverityWarning, governance.SeverityInfo,
	} {
		if n := rep.BySeverity[sev]; n > 0 {
			c := severityColor(sev)
			if noColor {
				c.DisableColor()
			}
			c.Fprintf(w, "  %-9s", sev)
			fmt.Fprintf(w, " %d\n", n)
		}
	}

	bold.Fprintln(w, "\nAffected sources")
	for _, src := range rep.AffectedSources {
		c := severityColor(src.HighestSeverity)
		if noColor {
			c.DisableColor()
		}
		fmt.Fprintf(w, "  %-32s %3d  ", src.SourceID, src.Detections)
		c.Fprintln(w, src.HighestSeverity)
	}

	if len(rep.Recommendations) > 0 {
		bold.Fprintln(w, "\nRecommendations")
		for _, r := range rep.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
}

func severityColor(s governance.Severity) *color.Color {
	switch s {
	case governance.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	case governance.SeverityHigh:
		return color.New(color.FgRed)
	case governance.SeverityMedium, governance.SeverityWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// =============================================================================
// 📄 report command
// =============================================================================

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	format := fs.String("format", "markdown", "Export format: json, markdown, html")
	apiKey := fs.String("api-key", os.Getenv("SEARCHFLOW_API_KEY"), "API key sent as X-API-Key")
	token := fs.String("token", os.Getenv("SEARCHFLOW_TOKEN"), "Bearer token for the governance endpoints")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 30 * time.Second}
	if err := fetchReport(context.Background(), client, os.Stdout, *addr, *format, *apiKey, *token); err != nil {
		fmt.Fprintf(os.Stderr, "report failed: %v\n", err)
		os.Exit(1)
	}
}

// fetchReport downloads the governance export from a running server and
// copies it to w.
func fetchReport(ctx context.Context, client *http.Client, w io.Writer, addr, format, apiKey, token string) error {
	if _, err := governance.ParseExportFormat(format); err != nil {
		return err
	}
	u := strings.TrimRight(addr, "/") + "/api/v1/governance/export?format=" + url.QueryEscape(format)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
