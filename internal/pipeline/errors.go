package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoPages is returned for PDFs that open but contain no pages.
var ErrNoPages = errors.New("document has no pages")

// Stages at which a whole ingestion can fail.
const (
	StageValidate = "validate"
	StageRender   = "render"
	StageMetadata = "metadata"
)

// IngestError is a document-level failure: the ingestion stopped before any
// page was scheduled and no document was created. Page failures never produce
// an IngestError.
type IngestError struct {
	Stage string
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingestion failed during %s: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// UserMessage is safe to show to the person who uploaded the file.
func (e *IngestError) UserMessage() string {
	switch e.Stage {
	case StageValidate:
		return "Indexing failed. The file is not a readable PDF."
	case StageMetadata:
		return "Indexing failed. The AI service could not read the first page."
	default:
		return "Indexing failed. API or memory limit exceeded."
	}
}

func stageError(stage string, err error) error {
	return &IngestError{Stage: stage, Err: err}
}
