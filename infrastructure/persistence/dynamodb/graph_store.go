package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/aggregates"
	"flowdeck-backend/domain/core/entities"
	"flowdeck-backend/domain/core/valueobjects"
	apperrors "flowdeck-backend/pkg/errors"
)

// GraphStore persists whole-workflow snapshots. A workflow is one item;
// saves replace the previous snapshot, so concurrent sessions resolve by
// last write wins.
type GraphStore struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

var _ ports.GraphStore = (*GraphStore)(nil)

func NewGraphStore(client *dynamodb.Client, tableName string, logger *zap.Logger) *GraphStore {
	return &GraphStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

type workflowItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	WorkflowID string `dynamodbav:"WorkflowID"`
	Name       string `dynamodbav:"Name"`
	Nodes      string `dynamodbav:"Nodes"`
	Edges      string `dynamodbav:"Edges"`
	UpdatedAt  string `dynamodbav:"UpdatedAt"`
}

const snapshotSK = "SNAPSHOT"

func (s *GraphStore) GetWorkflow(ctx context.Context, id valueobjects.WorkflowID) (*aggregates.Workflow, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: workflowPK(id)},
			"SK": &types.AttributeValueMemberS{Value: snapshotSK},
		},
	}

	result, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if result.Item == nil {
		return nil, apperrors.NewNotFound(fmt.Sprintf("workflow %s not found", id))
	}

	var item workflowItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow item: %w", err)
	}

	var nodes []entities.Node
	if err := json.Unmarshal([]byte(item.Nodes), &nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow nodes: %w", err)
	}
	var edges []entities.Edge
	if err := json.Unmarshal([]byte(item.Edges), &edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow edges: %w", err)
	}

	return &aggregates.Workflow{
		ID:    valueobjects.WorkflowID(item.WorkflowID),
		Name:  item.Name,
		Nodes: nodes,
		Edges: edges,
	}, nil
}

func (s *GraphStore) SaveWorkflow(ctx context.Context, workflow *aggregates.Workflow) error {
	if workflow == nil {
		return apperrors.NewValidation("workflow is required")
	}
	if err := workflow.Validate(); err != nil {
		return err
	}

	nodes, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow nodes: %w", err)
	}
	edges, err := json.Marshal(workflow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow edges: %w", err)
	}

	item := workflowItem{
		PK:         workflowPK(workflow.ID),
		SK:         snapshotSK,
		EntityType: "WORKFLOW",
		WorkflowID: workflow.ID.String(),
		Name:       workflow.Name,
		Nodes:      string(nodes),
		Edges:      string(edges),
		UpdatedAt:  time.Now().Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow item: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		s.logger.Error("Failed to save workflow snapshot",
			zap.String("workflowId", workflow.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	s.logger.Debug("Workflow snapshot saved",
		zap.String("workflowId", workflow.ID.String()),
		zap.Int("nodes", len(workflow.Nodes)),
		zap.Int("edges", len(workflow.Edges)),
	)
	return nil
}

func (s *GraphStore) DeleteWorkflow(ctx context.Context, id valueobjects.WorkflowID) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: workflowPK(id)},
			"SK": &types.AttributeValueMemberS{Value: snapshotSK},
		},
	}
	if _, err := s.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}
