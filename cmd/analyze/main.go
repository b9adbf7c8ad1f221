package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/priorai/priorai/internal/analysis"
	"github.com/priorai/priorai/internal/config"
	"github.com/priorai/priorai/internal/orchestrate"
	"github.com/priorai/priorai/internal/providers"
	"github.com/priorai/priorai/internal/report"
	"github.com/priorai/priorai/internal/store"
	"github.com/priorai/priorai/internal/workflow"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	title := flag.String("title", "", "disclosure title (defaults to the file name)")
	dbPath := flag.String("db", "", "SQLite database path (defaults to a temp file)")
	pdfOut := flag.String("pdf", "", "write the PDF report to this path")
	mdOut := flag.String("markdown", "", "write the markdown report to this path")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: analyze [flags] <disclosure.txt | ->")
	}
	text, name, err := readDisclosure(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if *title == "" {
		*title = name
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	path := *dbPath
	if path == "" {
		path = filepath.Join(os.TempDir(), "analyze-"+uuid.NewString()+".db")
		defer os.Remove(path)
	}

	st, err := store.NewSQLiteStore(path)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	set, err := providers.New(providers.Config{
		AnthropicAPIKey:    cfg.Anthropic.APIKey,
		PatentsViewAPIKey:  cfg.PatentsView.APIKey,
		PatentsViewBaseURL: cfg.PatentsView.BaseURL,
		RateLimitPerMinute: cfg.PatentsView.RateLimitPerMinute,
	})
	if err != nil {
		log.Fatal(err)
	}
	orch := orchestrate.NewClient(orchestrate.Config{
		BaseURL:      cfg.Orchestrate.BaseURL,
		APIKey:       cfg.Orchestrate.APIKey,
		WorkflowName: cfg.Orchestrate.WorkflowName,
	})
	engine := workflow.New(st, set, orch, workflow.Config{
		MaxSearchResults: cfg.Workflow.MaxSearchResults,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	now := time.Now().UTC()
	a := &analysis.Analysis{
		ID:        uuid.NewString(),
		Title:     *title,
		Status:    analysis.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateAnalysis(a); err != nil {
		log.Fatal(err)
	}

	done, err := engine.Run(ctx, a.ID, text)
	if err != nil {
		log.Fatalf("analysis failed at %s: %v", workflow.StageNameFromError(err), err)
	}
	candidates, err := st.ListCandidates(a.ID)
	if err != nil {
		log.Fatal(err)
	}
	printSummary(done, candidates)

	if *mdOut != "" || *pdfOut != "" {
		md := report.BuildMarkdown(done, candidates)
		if *mdOut != "" {
			if err := os.WriteFile(*mdOut, []byte(md), 0o644); err != nil {
				log.Fatal(err)
			}
			log.Printf("wrote %s", *mdOut)
		}
		if *pdfOut != "" {
			pdf, err := report.NewChromiumPDFRenderer().Render(ctx, md)
			if err != nil {
				log.Fatalf("pdf render: %v", err)
			}
			if err := os.WriteFile(*pdfOut, pdf, 0o644); err != nil {
				log.Fatal(err)
			}
			log.Printf("wrote %s", *pdfOut)
		}
	}
}

func readDisclosure(arg string) (text, name string, err error) {
	if arg == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", err
		}
		return string(b), "Untitled disclosure", nil
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return "", "", err
	}
	base := filepath.Base(arg)
	return string(b), base[:len(base)-len(filepath.Ext(base))], nil
}

func printSummary(a *analysis.Analysis, candidates []analysis.Candidate) {
	fmt.Printf("Analysis %s\n", a.ID)
	fmt.Printf("  Recommendation: %s\n", a.Recommendation)
	if a.NoveltyScore != nil {
		fmt.Printf("  Novelty score:  %.1f / 100\n", *a.NoveltyScore)
	}
	if a.IsPatentable != nil {
		fmt.Printf("  Patentable:     %t", *a.IsPatentable)
		if a.PatentabilityConfidence != nil {
			fmt.Printf(" (confidence %.0f%%)", *a.PatentabilityConfidence)
		}
		fmt.Println()
	}
	if a.Reasoning != "" {
		fmt.Printf("  Reasoning:      %s\n", a.Reasoning)
	}
	if len(candidates) > 0 {
		fmt.Println("  Closest prior art:")
		top := candidates
		if len(top) > 5 {
			top = top[:5]
		}
		for _, c := range top {
			fmt.Printf("    %-16s %5.1f  %s\n", c.PatentID, c.SimilarityScore, c.Title)
		}
	}
}
