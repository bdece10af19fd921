package pipeline

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
)

// PageExtraction is what the extractor returns for one page. Its JSON shape
// matches the response schema given to the model.
type PageExtraction struct {
	Sections []ExtractedSection `json:"sections"`
	Tables   []ExtractedTable   `json:"tables"`
	Images   []ExtractedImage   `json:"images"`
	TOC      []string           `json:"toc,omitempty"`
}

type ExtractedSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Chapter string `json:"chapter,omitempty"`
}

type ExtractedTable struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Summary string     `json:"summary"`
}

type ExtractedImage struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

// MergeStats counts what one Merge call added.
type MergeStats struct {
	Sections int
	Tables   int
	Images   int
	TOC      int
	Skipped  int
}

// Aggregator is the single writer of one document's knowledge while its run
// is in flight. Every mutation goes through Merge, which holds the lock for
// the whole read-modify-write.
type Aggregator struct {
	mu      sync.Mutex
	doc     *models.Document
	tocSeen map[string]struct{}
	newID   func() string
}

// NewAggregator takes ownership of doc. The caller must not touch doc again;
// use Document for snapshots.
func NewAggregator(doc *models.Document) *Aggregator {
	if doc.Sections == nil {
		doc.Sections = []models.Section{}
	}
	if doc.Tables == nil {
		doc.Tables = []models.Table{}
	}
	if doc.Images == nil {
		doc.Images = []models.Image{}
	}
	a := &Aggregator{
		doc:     doc,
		tocSeen: make(map[string]struct{}, len(doc.TOC)),
		newID:   uuid.NewString,
	}
	toc := make([]string, 0, len(doc.TOC))
	for _, entry := range doc.TOC {
		if _, dup := a.tocSeen[entry]; dup {
			continue
		}
		a.tocSeen[entry] = struct{}{}
		toc = append(toc, entry)
	}
	doc.TOC = toc
	return a
}

// DocumentID identifies the document this aggregator owns.
func (a *Aggregator) DocumentID() string {
	return a.doc.ID
}

// Merge appends one page's extraction to the document. Every entry gets a
// fresh id and the page number; TOC entries are added once, in order of first
// appearance. Entries with nothing in them are skipped.
func (a *Aggregator) Merge(page int, ext *PageExtraction) MergeStats {
	var stats MergeStats
	if ext == nil {
		return stats
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range ext.Sections {
		if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.Content) == "" {
			stats.Skipped++
			continue
		}
		a.doc.Sections = append(a.doc.Sections, models.Section{
			ID:         a.newID(),
			Title:      strings.TrimSpace(s.Title),
			Content:    s.Content,
			Chapter:    strings.TrimSpace(s.Chapter),
			PageNumber: page,
		})
		stats.Sections++
	}

	for _, t := range ext.Tables {
		if len(t.Headers) == 0 && len(t.Rows) == 0 {
			stats.Skipped++
			continue
		}
		rows := make([][]string, 0, len(t.Rows))
		for _, r := range t.Rows {
			rows = append(rows, append([]string(nil), r...))
		}
		a.doc.Tables = append(a.doc.Tables, models.Table{
			ID:         a.newID(),
			Headers:    append([]string(nil), t.Headers...),
			Rows:       rows,
			Summary:    t.Summary,
			PageNumber: page,
		})
		stats.Tables++
	}

	for _, img := range ext.Images {
		if strings.TrimSpace(img.Description) == "" {
			stats.Skipped++
			continue
		}
		a.doc.Images = append(a.doc.Images, models.Image{
			ID:          a.newID(),
			Description: img.Description,
			Type:        imageKind(img.Type),
			PageNumber:  page,
		})
		stats.Images++
	}

	for _, entry := range ext.TOC {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, dup := a.tocSeen[entry]; dup {
			continue
		}
		a.tocSeen[entry] = struct{}{}
		a.doc.TOC = append(a.doc.TOC, entry)
		stats.TOC++
	}

	return stats
}

// Document returns a deep copy of the current state.
func (a *Aggregator) Document() *models.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc.Clone()
}

func imageKind(t string) string {
	if strings.EqualFold(strings.TrimSpace(t), models.ImageKindChart) {
		return models.ImageKindChart
	}
	return models.ImageKindImage
}
