package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/loqalabs/aira-core/internal/analytics"
	"github.com/loqalabs/aira-core/internal/graph"
	"github.com/loqalabs/aira-core/internal/insights"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'alerts', 'layout' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "alerts":
		err = runAlerts(os.Args[2:], os.Stdout)
	case "layout":
		err = runLayout(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAlerts(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	file := fs.String("file", "graph.json", "Path to graph document")
	recent := fs.Int("recent-days", analytics.DefaultRecentDays, "Recent window in days")
	baseline := fs.Int("baseline-days", analytics.DefaultBaselineDays, "Baseline window in days")
	maxAlerts := fs.Int("max", analytics.DefaultMaxAlerts, "Maximum number of alerts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	doc, err := loadDocument(*file)
	if err != nil {
		return err
	}
	alerts := analytics.ComputeChangeAlerts(doc, analytics.Options{
		RecentDays:   *recent,
		BaselineDays: *baseline,
		MaxAlerts:    *maxAlerts,
	})
	if alerts == nil {
		alerts = []analytics.Alert{}
	}
	return writeJSON(w, alerts)
}

func runLayout(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("layout", flag.ExitOnError)
	file := fs.String("file", "graph.json", "Path to graph document")
	q := url.Values{}
	for _, name := range []string{"emotion", "relation", "mode", "hierarchy", "expanded"} {
		name := name
		fs.Func(name, "Builder option "+name, func(v string) error {
			q.Set(name, v)
			return nil
		})
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts, err := insights.LayoutOptions(q)
	if err != nil {
		return err
	}
	doc, err := loadDocument(*file)
	if err != nil {
		return err
	}
	return writeJSON(w, graph.Build(doc, opts))
}

func loadDocument(path string) (graph.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return graph.Document{}, fmt.Errorf("open graph document: %w", err)
	}
	defer f.Close()
	return graph.ParseDocument(f)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
