package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/services"
)

func openApp(ctx context.Context, withModels bool) (*services.LocalApp, error) {
	app, err := services.NewLocalApp(ctx, withModels)
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	return app, nil
}

func printDocuments(out io.Writer, docs []*models.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents indexed yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tPAGES\tPROCESSED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			d.ID, clip(d.DisplayTitle(), 48), d.Metadata.Category, pageSpan(d), d.ProcessedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}

func printDocument(out io.Writer, d *models.Document) {
	fmt.Fprintf(out, "%s\n\n", d.DisplayTitle())
	fmt.Fprintf(out, "ID:        %s\n", d.ID)
	fmt.Fprintf(out, "File:      %s\n", d.FileName)
	if d.Metadata.Category != "" {
		fmt.Fprintf(out, "Category:  %s\n", d.Metadata.Category)
	}
	if d.Metadata.Author != "" {
		fmt.Fprintf(out, "Author:    %s\n", d.Metadata.Author)
	}
	if d.Metadata.Date != "" {
		fmt.Fprintf(out, "Date:      %s\n", d.Metadata.Date)
	}
	fmt.Fprintf(out, "Processed: %s\n", d.ProcessedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Contents:  %d sections, %d tables, %d visuals\n", len(d.Sections), len(d.Tables), len(d.Images))
	if d.Metadata.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", d.Metadata.Summary)
	}
	if len(d.Metadata.KeyPoints) > 0 {
		fmt.Fprintln(out)
		for _, kp := range d.Metadata.KeyPoints {
			fmt.Fprintf(out, "  - %s\n", kp)
		}
	}
}

func printResults(out io.Writer, results []models.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No matches.")
		return
	}
	for i, r := range results {
		loc := r.FileName
		if r.PageNumber > 0 {
			loc = fmt.Sprintf("%s p.%d", r.FileName, r.PageNumber)
		}
		fmt.Fprintf(out, "%d. [%.2f] %s (%s, %s)\n", i+1, r.Score, r.Title, r.Type, loc)
		if r.Snippet != "" {
			fmt.Fprintf(out, "   %s\n", r.Snippet)
		}
	}
}

func printHistory(out io.Writer, items []models.SearchHistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No searches recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tRESULTS\tQUERY")
	for _, h := range items {
		fmt.Fprintf(w, "%s\t%d\t%s\n", h.Timestamp.Local().Format(time.DateTime), len(h.Results), h.Query)
	}
	w.Flush()
}

// pageSpan is the highest page number any extracted element refers to.
func pageSpan(d *models.Document) int {
	n := 0
	for _, s := range d.Sections {
		n = max(n, s.PageNumber)
	}
	for _, t := range d.Tables {
		n = max(n, t.PageNumber)
	}
	for _, img := range d.Images {
		n = max(n, img.PageNumber)
	}
	return n
}

func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
