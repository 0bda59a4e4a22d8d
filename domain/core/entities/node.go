package entities

import (
	"flowdeck-backend/domain/core/valueobjects"
	pkgerrors "flowdeck-backend/pkg/errors"
)

// Node is one block on the workflow canvas: a widget, trigger, action or
// any other component the builder places. Fields are exported because nodes
// travel inside operation payloads over the collaboration channel.
type Node struct {
	ID       valueobjects.NodeID   `json:"id"`
	Type     string                `json:"type"`
	Position valueobjects.Position `json:"position"`
	Config   map[string]any        `json:"config,omitempty"`
}

// NewNode creates a node with a fresh id
func NewNode(nodeType string, position valueobjects.Position, config map[string]any) (Node, error) {
	if nodeType == "" {
		return Node{}, pkgerrors.NewValidation("node type is required")
	}
	return Node{
		ID:       valueobjects.NewNodeID(),
		Type:     nodeType,
		Position: position,
		Config:   CloneConfig(config),
	}, nil
}

// Clone returns a deep copy of the node. Operation payloads must be
// self-sufficient, so nodes captured in an inverse are always cloned rather
// than aliased into the live graph.
func (n Node) Clone() Node {
	clone := n
	clone.Config = CloneConfig(n.Config)
	return clone
}

// WithPosition returns a copy of the node at the given position
func (n Node) WithPosition(p valueobjects.Position) Node {
	clone := n.Clone()
	clone.Position = p
	return clone
}

// WithConfig returns a copy of the node carrying the given config
func (n Node) WithConfig(config map[string]any) Node {
	clone := n
	clone.Config = CloneConfig(config)
	return clone
}

// CloneConfig deep-copies a node config. Values are copied one level deep
// plus nested maps and slices, which covers everything the canvas stores.
func CloneConfig(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	clone := make(map[string]any, len(config))
	for k, v := range config {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneConfig(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
