package models

import (
	"slices"
	"time"
)

// Document is the extracted knowledge of one ingested PDF. It is stored as a
// single record keyed by ID and replaced as a whole on every save.
type Document struct {
	ID          string           `json:"id"`
	FileName    string           `json:"fileName"`
	FileSize    int64            `json:"fileSize"`
	FileHash    string           `json:"fileHash,omitempty"`
	Metadata    DocumentMetadata `json:"metadata"`
	Sections    []Section        `json:"sections"`
	Tables      []Table          `json:"tables"`
	Images      []Image          `json:"images"`
	TOC         []string         `json:"toc"`
	ProcessedAt time.Time        `json:"processedAt"`
}

// DocumentMetadata is produced once per document from its first page.
type DocumentMetadata struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	BriefSummary string   `json:"briefSummary"`
	Author       string   `json:"author,omitempty"`
	Date         string   `json:"date,omitempty"`
	Category     string   `json:"category,omitempty"`
	KeyPoints    []string `json:"keyPoints"`
}

type Section struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Chapter    string `json:"chapter,omitempty"`
	PageNumber int    `json:"pageNumber"`
}

type Table struct {
	ID         string     `json:"id"`
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	Summary    string     `json:"summary"`
	PageNumber int        `json:"pageNumber"`
}

// Image kinds reported by the extractor.
const (
	ImageKindImage = "image"
	ImageKindChart = "chart"
)

type Image struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Type        string `json:"type"`
	PageNumber  int    `json:"pageNumber"`
}

// DisplayTitle falls back to the file name when no title was extracted.
func (d *Document) DisplayTitle() string {
	if d.Metadata.Title != "" {
		return d.Metadata.Title
	}
	return d.FileName
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Metadata.KeyPoints = slices.Clone(d.Metadata.KeyPoints)
	c.Sections = slices.Clone(d.Sections)
	c.Images = slices.Clone(d.Images)
	c.TOC = slices.Clone(d.TOC)
	c.Tables = slices.Clone(d.Tables)
	for i, t := range c.Tables {
		c.Tables[i].Headers = slices.Clone(t.Headers)
		c.Tables[i].Rows = slices.Clone(t.Rows)
		for j, r := range t.Rows {
			c.Tables[i].Rows[j] = slices.Clone(r)
		}
	}
	return &c
}
