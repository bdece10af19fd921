// Package export renders stored documents into downloadable formats.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
)

// Supported export formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Rendition is an exported document ready to be written or served.
type Rendition struct {
	FileName    string
	ContentType string
	Content     string
}

// Render exports doc in the given format. An empty format means JSON.
func Render(doc *models.Document, format string) (*Rendition, error) {
	base := baseName(doc)
	switch strings.ToLower(format) {
	case "", FormatJSON:
		content, err := JSON(doc)
		if err != nil {
			return nil, err
		}
		return &Rendition{FileName: base + ".json", ContentType: "application/json", Content: content}, nil
	case FormatMarkdown, "md":
		return &Rendition{FileName: base + ".md", ContentType: "text/markdown; charset=utf-8", Content: Markdown(doc)}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// JSON returns the indented JSON form of doc.
func JSON(doc *models.Document) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	return string(data), nil
}

// Markdown renders doc as a single Markdown report.
func Markdown(doc *models.Document) string {
	var b strings.Builder
	meta := doc.Metadata

	fmt.Fprintf(&b, "# %s\n\n", doc.DisplayTitle())
	if meta.Category != "" {
		fmt.Fprintf(&b, "**Category:** %s\n\n", meta.Category)
	}
	if meta.Author != "" {
		fmt.Fprintf(&b, "**Author:** %s\n\n", meta.Author)
	}
	if meta.Date != "" {
		fmt.Fprintf(&b, "**Date:** %s\n\n", meta.Date)
	}
	fmt.Fprintf(&b, "**Source file:** %s\n\n", doc.FileName)

	if meta.Summary != "" {
		b.WriteString("## Executive Summary\n\n")
		b.WriteString(meta.Summary)
		b.WriteString("\n\n")
	}

	if len(meta.KeyPoints) > 0 {
		b.WriteString("## Key Points\n\n")
		for _, p := range meta.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	if len(doc.TOC) > 0 {
		b.WriteString("## Table of Contents\n\n")
		for i, entry := range doc.TOC {
			fmt.Fprintf(&b, "%d. %s\n", i+1, entry)
		}
		b.WriteString("\n")
	}

	if len(doc.Sections) > 0 {
		b.WriteString("## Sections\n\n")
		for _, s := range doc.Sections {
			fmt.Fprintf(&b, "### %s (page %d)\n\n", s.Title, s.PageNumber)
			if s.Chapter != "" {
				fmt.Fprintf(&b, "_Chapter: %s_\n\n", s.Chapter)
			}
			b.WriteString(s.Content)
			b.WriteString("\n\n")
		}
	}

	if len(doc.Tables) > 0 {
		b.WriteString("## Tables\n\n")
		for i, t := range doc.Tables {
			fmt.Fprintf(&b, "### Table %d (page %d)\n\n", i+1, t.PageNumber)
			if t.Summary != "" {
				b.WriteString(t.Summary)
				b.WriteString("\n\n")
			}
			writeTable(&b, t)
			b.WriteString("\n")
		}
	}

	if len(doc.Images) > 0 {
		b.WriteString("## Visuals\n\n")
		for _, img := range doc.Images {
			fmt.Fprintf(&b, "- **%s** (page %d): %s\n", img.Type, img.PageNumber, img.Description)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// writeTable emits a pipe table. Short rows are padded and long rows keep
// their extra cells under blank headers.
func writeTable(b *strings.Builder, t models.Table) {
	width := len(t.Headers)
	for _, r := range t.Rows {
		width = max(width, len(r))
	}
	if width == 0 {
		return
	}
	writeRow(b, pad(t.Headers, width))
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(b, sep)
	for _, r := range t.Rows {
		writeRow(b, pad(r, width))
	}
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		fmt.Fprintf(b, " %s |", escapeCell(c))
	}
	b.WriteString("\n")
}

func pad(cells []string, width int) []string {
	out := make([]string, width)
	copy(out, cells)
	return out
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func baseName(doc *models.Document) string {
	name := strings.TrimSuffix(doc.FileName, ".pdf")
	name = strings.TrimSuffix(name, ".PDF")
	if name == "" {
		name = doc.ID
	}
	return name
}
