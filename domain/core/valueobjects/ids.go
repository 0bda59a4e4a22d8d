package valueobjects

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "flowdeck-backend/pkg/errors"
)

// NodeID uniquely identifies a node on a workflow canvas.
// IDs are assigned at creation and never reused.
type NodeID string

// NewNodeID creates a new random NodeID
func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

// ParseNodeID creates a NodeID from a string
func ParseNodeID(id string) (NodeID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", pkgerrors.NewValidation("node id cannot be empty")
	}
	return NodeID(id), nil
}

// String returns the string representation of the NodeID
func (id NodeID) String() string {
	return string(id)
}

// IsEmpty checks if the NodeID is empty
func (id NodeID) IsEmpty() bool {
	return id == ""
}

// EdgeID uniquely identifies an edge between two nodes.
type EdgeID string

// NewEdgeID creates a new random EdgeID
func NewEdgeID() EdgeID {
	return EdgeID(uuid.New().String())
}

// ParseEdgeID creates an EdgeID from a string
func ParseEdgeID(id string) (EdgeID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", pkgerrors.NewValidation("edge id cannot be empty")
	}
	return EdgeID(id), nil
}

// String returns the string representation of the EdgeID
func (id EdgeID) String() string {
	return string(id)
}

// IsEmpty checks if the EdgeID is empty
func (id EdgeID) IsEmpty() bool {
	return id == ""
}

// WorkflowID identifies one shared workflow graph.
type WorkflowID string

// NewWorkflowID creates a new random WorkflowID
func NewWorkflowID() WorkflowID {
	return WorkflowID(uuid.New().String())
}

// ParseWorkflowID creates a WorkflowID from a string
func ParseWorkflowID(id string) (WorkflowID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", pkgerrors.NewValidation("workflow id cannot be empty")
	}
	return WorkflowID(id), nil
}

// String returns the string representation of the WorkflowID
func (id WorkflowID) String() string {
	return string(id)
}

// IsEmpty checks if the WorkflowID is empty
func (id WorkflowID) IsEmpty() bool {
	return id == ""
}

// UserID identifies a collaborator.
type UserID string

// NewUserID creates a UserID from a string with validation
func NewUserID(id string) (UserID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", pkgerrors.NewValidation("user id cannot be empty")
	}
	if len(id) > MaxUserIDLength {
		return "", pkgerrors.NewValidation("user id too long")
	}
	return UserID(id), nil
}

// String returns the string representation of the UserID
func (id UserID) String() string {
	return string(id)
}

// IsEmpty checks if the UserID is empty
func (id UserID) IsEmpty() bool {
	return id == ""
}

// OperationID identifies a single recorded operation.
type OperationID string

// NewOperationID creates a new random OperationID
func NewOperationID() OperationID {
	return OperationID(uuid.New().String())
}

// String returns the string representation of the OperationID
func (id OperationID) String() string {
	return string(id)
}

// Constants for validation
const (
	MaxUserIDLength = 100
)
