package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultModel is used when GEMINI_MODEL is not set.
const DefaultModel = "gemini-1.5-pro"

// --- Metadata Model Prompts ---
const MetadataSystemPrompt = "You are an enterprise document analyst. You read the first page of a document and describe the document as a whole. You must output your response as a single valid JSON object."
const MetadataUserPrompt = `This is the first page of an enterprise document.
Please extract high-level document information:
1. The official title of the document.
2. A concise executive summary (3-4 sentences).
3. A BRIEF summary (exactly one sentence, max 120 characters) that describes the document's core purpose.
4. The author or issuing organization (if visible).
5. The publication or revision date (if visible).
6. A logical category (e.g., Policy, Technical Manual, Financial Report, Research Paper).
7. 3-5 key points or objectives mentioned in the document intro.`

// --- Page Model Prompts ---
const PageSystemPrompt = "You are a document parser. Your task is to extract structured knowledge from a single rendered PDF page. Accuracy, detail, and information preservation are of utmost importance. You must output your response as a single valid JSON object."

// PageUserPrompt is the extraction instruction for one page.
func PageUserPrompt(pageNumber int) string {
	return fmt.Sprintf(`Analyze this PDF page (Page %d) and extract structured knowledge.

1. **Sections**: Identify meaningful sections or chapters.

2. **Tables**: Extract tables into a precise grid format.
   - **Complex Tables**: For tables with merged cells (rowspan/colspan) or multi-level headers, flatten the structure logically.
   - **Merged Cell Strategy**: Ensure that data from a merged cell is repeated or logically included in every relevant sub-row or sub-column.
   - **Data Integrity**: Preserve the original text precisely.
   - **Summary**: Provide a detailed summary of the table's contents.

3. **Visuals**: Detect images, charts, or diagrams. For each one:
   - Provide a clear description of what it shows.
   - Perform OCR on any text found within the image/chart and include it in the description field.
   - Set type to "chart" for charts and diagrams, "image" otherwise.

4. **TOC**: Note any Table of Contents items if present on this page.

Be precise and preserve the semantic hierarchy.`, pageNumber)
}

// --- Search Model Prompts ---
const SearchSystemPrompt = "You are a retrieval engine over an enterprise knowledge base. You only return items that exist in the provided context. You must output your response as a valid JSON array."

// SearchUserPrompt asks for the most relevant items of corpus for query.
func SearchUserPrompt(query, corpus string) string {
	return fmt.Sprintf(`Given the query %q, find the most relevant pieces of information from this knowledge base.
Return a list of results with docId, type (section, table or image), title, a brief snippet, a confidence score (0-1) and the page number when known.
Context: %s`, query, corpus)
}

var metadataSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":        {Type: genai.TypeString},
		"summary":      {Type: genai.TypeString},
		"briefSummary": {Type: genai.TypeString},
		"author":       {Type: genai.TypeString},
		"date":         {Type: genai.TypeString},
		"category":     {Type: genai.TypeString},
		"keyPoints":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"title", "summary", "briefSummary", "category", "keyPoints"},
}

var pageSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"sections": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":   {Type: genai.TypeString},
					"content": {Type: genai.TypeString},
					"chapter": {Type: genai.TypeString},
				},
				Required: []string{"title", "content"},
			},
		},
		"tables": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"headers": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					"rows": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
					},
					"summary": {Type: genai.TypeString},
				},
				Required: []string{"headers", "rows", "summary"},
			},
		},
		"images": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"description": {Type: genai.TypeString},
					"type":        {Type: genai.TypeString, Enum: []string{"image", "chart"}},
				},
				Required: []string{"description", "type"},
			},
		},
		"toc": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"sections", "tables", "images"},
}

var searchSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"docId":      {Type: genai.TypeString},
			"type":       {Type: genai.TypeString},
			"title":      {Type: genai.TypeString},
			"snippet":    {Type: genai.TypeString},
			"score":      {Type: genai.TypeNumber},
			"pageNumber": {Type: genai.TypeInteger},
		},
		Required: []string{"docId", "title", "snippet", "score"},
	},
}

// VertexClient holds all pre-configured generative models for our app.
type VertexClient struct {
	MetadataModel *genai.GenerativeModel
	PageModel     *genai.GenerativeModel
	SearchModel   *genai.GenerativeModel
	baseClient    *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		MetadataModel: jsonModel(baseClient, modelName, MetadataSystemPrompt, metadataSchema),
		PageModel:     jsonModel(baseClient, modelName, PageSystemPrompt, pageSchema),
		SearchModel:   jsonModel(baseClient, modelName, SearchSystemPrompt, searchSchema),
		baseClient:    baseClient,
	}, nil
}

// jsonModel configures a model that must answer with JSON matching schema.
func jsonModel(client *genai.Client, name, systemPrompt string, schema *genai.Schema) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
		Temperature:      genai.Ptr[float32](0.0), // structured output, keep it deterministic
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
