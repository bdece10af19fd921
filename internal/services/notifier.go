package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
)

// ExecutionCreator is the part of the Workflows Executions client we use.
type ExecutionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowNotifier hands finished documents to a Cloud Workflow.
type WorkflowNotifier struct {
	client ExecutionCreator
	parent string
}

func NewWorkflowNotifier(client ExecutionCreator, projectID, location, workflowID string) *WorkflowNotifier {
	return &WorkflowNotifier{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

// Completed starts one workflow execution for the result of a run.
func (n *WorkflowNotifier) Completed(ctx context.Context, runID string, res *pipeline.Result) error {
	payload := models.CompletionPayload{
		DocumentID:  res.Document.ID,
		RunID:       runID,
		PageCount:   res.Summary.Total,
		FailedPages: res.Summary.FailedPages(),
	}
	if payload.FailedPages == nil {
		payload.FailedPages = []int{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Workflow execution started.", "documentId", payload.DocumentID, "execution", exec.GetName())
	return nil
}
