package memory

import (
	"context"
	"fmt"
	"sync"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/valueobjects"
	apperrors "flowdeck-backend/pkg/errors"
)

// GraphStore keeps workflow state in process memory. Writes are last write
// wins, matching the persistence contract the editing sessions rely on.
type GraphStore struct {
	mu        sync.RWMutex
	workflows map[valueobjects.WorkflowID]aggregates.Workflow
}

var _ ports.GraphStore = (*GraphStore)(nil)

func NewGraphStore() *GraphStore {
	return &GraphStore{workflows: make(map[valueobjects.WorkflowID]aggregates.Workflow)}
}

func (s *GraphStore) GetWorkflow(ctx context.Context, id valueobjects.WorkflowID) (*aggregates.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, apperrors.NewNotFound(fmt.Sprintf("workflow %s not found", id))
	}
	clone := wf.Clone()
	return &clone, nil
}

func (s *GraphStore) SaveWorkflow(ctx context.Context, workflow *aggregates.Workflow) error {
	if workflow == nil {
		return apperrors.NewValidation("workflow is required")
	}
	if err := workflow.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[workflow.ID] = workflow.Clone()
	return nil
}

func (s *GraphStore) DeleteWorkflow(ctx context.Context, id valueobjects.WorkflowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}
