// Package render rasterises PDF pages into JPEG images for the extractor.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
)

const (
	pointsPerInch = 72.0
	// DefaultScale is applied to the page box before the size cap.
	DefaultScale = 1.5
	// DefaultMaxDimension caps the longest side of a rendered page in pixels.
	DefaultMaxDimension = 2000
	// DefaultQuality is the JPEG quality used for page images.
	DefaultQuality = 80
)

// FitzRenderer counts pages with pdfcpu and rasterises them with MuPDF.
// A fitz document is not safe for concurrent use, so every Render opens its
// own; the scheduler calls Render from several goroutines at once.
type FitzRenderer struct {
	Scale        float64
	MaxDimension int
	Quality      int
}

var _ pipeline.PageRenderer = (*FitzRenderer)(nil)

// NewFitzRenderer returns a renderer with the default scale, cap and quality.
func NewFitzRenderer() *FitzRenderer {
	return &FitzRenderer{Scale: DefaultScale, MaxDimension: DefaultMaxDimension, Quality: DefaultQuality}
}

// PageCount validates pdf in relaxed mode and returns its number of pages.
func (r *FitzRenderer) PageCount(_ context.Context, pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, fmt.Errorf("empty PDF")
	}
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(pdf), cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF page count: %w", err)
	}
	return n, nil
}

// Render rasterises the 1-based page of pdf.
func (r *FitzRenderer) Render(ctx context.Context, pdf []byte, page int) (*pipeline.PageImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, doc.NumPage())
	}
	bounds, err := doc.Bound(page - 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read bounds of page %d: %w", page, err)
	}

	img, err := doc.ImageDPI(page-1, r.dpiFor(bounds))
	if err != nil {
		return nil, fmt.Errorf("failed to rasterise page %d: %w", page, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality()}); err != nil {
		return nil, fmt.Errorf("failed to encode page %d as JPEG: %w", page, err)
	}
	size := img.Bounds()
	return &pipeline.PageImage{
		PageNumber: page,
		MIMEType:   "image/jpeg",
		Data:       buf.Bytes(),
		Width:      size.Dx(),
		Height:     size.Dy(),
	}, nil
}

// dpiFor picks the resolution for a page whose box is given in points.
func (r *FitzRenderer) dpiFor(bounds image.Rectangle) float64 {
	scale := r.Scale
	if scale <= 0 {
		scale = DefaultScale
	}
	longest := float64(max(bounds.Dx(), bounds.Dy()))
	if r.MaxDimension > 0 && longest > 0 && longest*scale > float64(r.MaxDimension) {
		scale = float64(r.MaxDimension) / longest
	}
	return pointsPerInch * scale
}

func (r *FitzRenderer) quality() int {
	if r.Quality < 1 || r.Quality > 100 {
		return DefaultQuality
	}
	return r.Quality
}
