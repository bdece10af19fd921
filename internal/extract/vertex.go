package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/knowledgeflow/internal/gcp"
	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("model returned no text")

// Generator is the part of *genai.GenerativeModel the extractor needs.
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexExtractor reads page images with Gemini. It implements both
// pipeline.PageExtractor and pipeline.MetadataExtractor.
type VertexExtractor struct {
	pageModel     Generator
	metadataModel Generator
	retry         RetryPolicy
}

var (
	_ pipeline.PageExtractor     = (*VertexExtractor)(nil)
	_ pipeline.MetadataExtractor = (*VertexExtractor)(nil)
)

// NewVertexExtractor uses the page and metadata models of client.
func NewVertexExtractor(client *gcp.VertexClient, retry RetryPolicy) *VertexExtractor {
	return NewExtractor(client.PageModel, client.MetadataModel, retry)
}

// NewExtractor builds an extractor over arbitrary generators.
func NewExtractor(pageModel, metadataModel Generator, retry RetryPolicy) *VertexExtractor {
	return &VertexExtractor{pageModel: pageModel, metadataModel: metadataModel, retry: retry}
}

func (e *VertexExtractor) ExtractPage(ctx context.Context, img *pipeline.PageImage, page int) (*pipeline.PageExtraction, error) {
	var out pipeline.PageExtraction
	op := fmt.Sprintf("extract page %d", page)
	err := e.retry.Do(ctx, op, func(ctx context.Context) error {
		return e.generateJSON(ctx, e.pageModel, img, gcp.PageUserPrompt(page), &out)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &out, nil
}

func (e *VertexExtractor) ExtractMetadata(ctx context.Context, img *pipeline.PageImage) (*models.DocumentMetadata, error) {
	var out models.DocumentMetadata
	err := e.retry.Do(ctx, "extract metadata", func(ctx context.Context) error {
		return e.generateJSON(ctx, e.metadataModel, img, gcp.MetadataUserPrompt, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("extract metadata: %w", err)
	}
	if out.KeyPoints == nil {
		out.KeyPoints = []string{}
	}
	return &out, nil
}

func (e *VertexExtractor) generateJSON(ctx context.Context, model Generator, img *pipeline.PageImage, prompt string, v any) error {
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: img.Data}, genai.Text(prompt))
	if err != nil {
		return fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return DecodeJSON(resp, v)
}

// DecodeJSON concatenates the text parts of the first candidate and decodes
// them into v. Markdown code fences around the payload are tolerated.
func DecodeJSON(resp *genai.GenerateContentResponse, v any) error {
	text := ResponseText(resp)
	if text == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		slog.Debug("Undecodable model response", "response", text)
		return fmt.Errorf("failed to decode model response: %w", err)
	}
	return nil
}

// ResponseText returns the trimmed text of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	text := strings.TrimSpace(sb.String())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
