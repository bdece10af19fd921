package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	lastParts []genai.Part
}

func (g *fakeGenerator) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	g.lastParts = parts
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	text := ""
	if i < len(g.responses) {
		text = g.responses[i]
	} else if len(g.responses) > 0 {
		text = g.responses[len(g.responses)-1]
	}
	return textResponse(text), nil
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func noWait(t *testing.T, waits *[]time.Duration) RetryPolicy {
	t.Helper()
	p := DefaultRetryPolicy()
	p.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

var testImage = &pipeline.PageImage{PageNumber: 3, MIMEType: "image/jpeg", Data: []byte{0xFF, 0xD8}}

func TestExtractPage_DecodesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"```json\n" + `{
		"sections": [{"title": "Scope", "content": "All staff", "chapter": "1"}],
		"tables": [{"headers": ["a"], "rows": [["1"]], "summary": "s"}],
		"images": [{"description": "logo", "type": "image"}],
		"toc": ["Scope"]
	}` + "\n```"}}
	var waits []time.Duration
	ext := NewExtractor(gen, nil, noWait(t, &waits))

	out, err := ext.ExtractPage(context.Background(), testImage, 3)
	require.NoError(t, err)

	require.Len(t, out.Sections, 1)
	assert.Equal(t, "Scope", out.Sections[0].Title)
	assert.Equal(t, "1", out.Sections[0].Chapter)
	assert.Equal(t, [][]string{{"1"}}, out.Tables[0].Rows)
	assert.Equal(t, []string{"Scope"}, out.TOC)
	assert.Empty(t, waits)

	require.Len(t, gen.lastParts, 2)
	blob, ok := gen.lastParts[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", blob.MIMEType)
	prompt, ok := gen.lastParts[1].(genai.Text)
	require.True(t, ok)
	assert.Contains(t, string(prompt), "Page 3")
}

func TestExtractPage_RetriesTransientErrorsWithDoublingDelay(t *testing.T) {
	gen := &fakeGenerator{
		errs:      []error{status.Error(codes.Unavailable, "try later"), &googleapi.Error{Code: 500}},
		responses: []string{"", "", `{"sections": [], "tables": [], "images": []}`},
	}
	var waits []time.Duration
	ext := NewExtractor(gen, nil, noWait(t, &waits))

	out, err := ext.ExtractPage(context.Background(), testImage, 3)
	require.NoError(t, err)
	assert.Empty(t, out.Sections)
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestExtractPage_GivesUpAfterMaxRetries(t *testing.T) {
	transient := status.Error(codes.ResourceExhausted, "quota")
	gen := &fakeGenerator{errs: []error{transient, transient, transient, transient, transient}}
	var waits []time.Duration
	ext := NewExtractor(gen, nil, noWait(t, &waits))

	_, err := ext.ExtractPage(context.Background(), testImage, 3)
	require.Error(t, err)
	assert.Equal(t, 4, gen.calls)
	assert.Len(t, waits, 3)
	assert.Equal(t, codes.ResourceExhausted, status.Code(errors.Unwrap(errors.Unwrap(err))))
}

func TestExtractPage_DoesNotRetryPermanentErrors(t *testing.T) {
	gen := &fakeGenerator{errs: []error{status.Error(codes.InvalidArgument, "bad image")}}
	var waits []time.Duration
	ext := NewExtractor(gen, nil, noWait(t, &waits))

	_, err := ext.ExtractPage(context.Background(), testImage, 3)
	require.Error(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, waits)
}

func TestExtractPage_MalformedJSONIsNotRetried(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"not json"}}
	var waits []time.Duration
	ext := NewExtractor(gen, nil, noWait(t, &waits))

	_, err := ext.ExtractPage(context.Background(), testImage, 3)
	require.ErrorContains(t, err, "decode")
	assert.Equal(t, 1, gen.calls)
}

func TestExtractMetadata(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{"title": "Travel Policy", "summary": "How to travel.", "briefSummary": "Travel rules.", "category": "Policy"}`}}
	var waits []time.Duration
	ext := NewExtractor(nil, gen, noWait(t, &waits))

	meta, err := ext.ExtractMetadata(context.Background(), testImage)
	require.NoError(t, err)
	assert.Equal(t, "Travel Policy", meta.Title)
	assert.Equal(t, "Policy", meta.Category)
	assert.NotNil(t, meta.KeyPoints)
}

func TestExtractMetadata_EmptyResponse(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"   "}}
	var waits []time.Duration
	ext := NewExtractor(nil, gen, noWait(t, &waits))

	_, err := ext.ExtractMetadata(context.Background(), testImage)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestRetryPolicy_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour}
	calls := 0

	err := p.Do(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("503 unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"grpc unknown", status.Error(codes.Unknown, "boom"), true},
		{"grpc internal", status.Error(codes.Internal, "boom"), true},
		{"grpc not found", status.Error(codes.NotFound, "gone"), false},
		{"http 429", &googleapi.Error{Code: 429}, true},
		{"http 503", &googleapi.Error{Code: 503}, true},
		{"http 400", &googleapi.Error{Code: 400}, false},
		{"rpc failed text", errors.New("xhr error: Rpc failed"), true},
		{"context cancelled", context.Canceled, false},
		{"plain", errors.New("invalid pdf"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestResponseText_ConcatenatesParts(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ResponseText(textResponse("```json\n{\"a\"", ":1}\n```")))
	assert.Empty(t, ResponseText(nil))
	assert.Empty(t, ResponseText(&genai.GenerateContentResponse{}))
}
