// Package dynamodb persists workflow snapshots and the operation archive
// in a single DynamoDB table. Items share the workflow partition key:
// snapshots under SK "SNAPSHOT", archived operations under
// "OP#<zero-padded timestamp>#<operation id>" so a key-ordered query
// returns them in Lamport order.
package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/core/valueobjects"
	"flowdeck-backend/domain/operation"
)

// OperationArchive implements the write-behind operation archive on
// DynamoDB
type OperationArchive struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

var _ ports.OperationArchive = (*OperationArchive)(nil)

func NewOperationArchive(client *dynamodb.Client, tableName string, logger *zap.Logger) *OperationArchive {
	return &OperationArchive{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// operationItem is the DynamoDB item for one archived operation. The
// forward and inverse payloads are stored as JSON documents; the archive
// never needs to query inside them.
type operationItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	EntityType  string `dynamodbav:"EntityType"`
	OperationID string `dynamodbav:"OperationID"`
	WorkflowID  string `dynamodbav:"WorkflowID"`
	UserID      string `dynamodbav:"UserID"`
	Type        string `dynamodbav:"Type"`
	Timestamp   uint64 `dynamodbav:"Timestamp"`
	Data        string `dynamodbav:"Data"`
	Inverse     string `dynamodbav:"Inverse"`
	IsRemote    bool   `dynamodbav:"IsRemote"`
	AppliedAt   string `dynamodbav:"AppliedAt"`
	CreatedAt   string `dynamodbav:"CreatedAt"`
}

// Archive writes a batch of log entries. Writes are idempotent: replaying
// an entry overwrites the identical item.
func (a *OperationArchive) Archive(ctx context.Context, workflowID valueobjects.WorkflowID, entries []ports.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	writes := make([]types.WriteRequest, 0, len(entries))
	for _, entry := range entries {
		item, err := a.marshalEntry(workflowID, entry)
		if err != nil {
			return err
		}
		writes = append(writes, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: item},
		})
	}

	// BatchWriteItem accepts at most 25 requests per call
	const batchSize = 25
	for i := 0; i < len(writes); i += batchSize {
		end := i + batchSize
		if end > len(writes) {
			end = len(writes)
		}
		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				a.tableName: writes[i:end],
			},
		}
		if _, err := a.client.BatchWriteItem(ctx, input); err != nil {
			return fmt.Errorf("failed to archive operations %d-%d: %w", i, end-1, err)
		}
	}

	a.logger.Debug("Operations archived",
		zap.String("workflowId", workflowID.String()),
		zap.Int("count", len(entries)),
	)
	return nil
}

// RecentOperations returns up to limit archived entries for the workflow,
// newest first
func (a *OperationArchive) RecentOperations(ctx context.Context, workflowID valueobjects.WorkflowID, limit int) ([]ports.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	keyCond := expression.Key("PK").Equal(expression.Value(workflowPK(workflowID))).
		And(expression.Key("SK").BeginsWith("OP#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(a.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false), // newest first
		Limit:                     aws.Int32(int32(limit)),
	}

	result, err := a.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived operations: %w", err)
	}

	entries := make([]ports.LogEntry, 0, len(result.Items))
	for _, item := range result.Items {
		entry, err := a.parseOperationItem(item)
		if err != nil {
			a.logger.Warn("Failed to parse archived operation", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (a *OperationArchive) marshalEntry(workflowID valueobjects.WorkflowID, entry ports.LogEntry) (map[string]types.AttributeValue, error) {
	op := entry.Operation
	data, err := json.Marshal(op.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation data: %w", err)
	}
	inverse, err := json.Marshal(op.Inverse)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation inverse: %w", err)
	}

	item := operationItem{
		PK:          workflowPK(workflowID),
		SK:          operationSK(op.Timestamp, op.ID),
		EntityType:  "OPERATION",
		OperationID: op.ID.String(),
		WorkflowID:  op.WorkflowID.String(),
		UserID:      op.UserID.String(),
		Type:        string(op.Type),
		Timestamp:   op.Timestamp,
		Data:        string(data),
		Inverse:     string(inverse),
		IsRemote:    entry.IsRemote,
		AppliedAt:   entry.AppliedAt.Format(time.RFC3339Nano),
		CreatedAt:   op.CreatedAt.Format(time.RFC3339Nano),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation item: %w", err)
	}
	return av, nil
}

func (a *OperationArchive) parseOperationItem(item map[string]types.AttributeValue) (ports.LogEntry, error) {
	var oi operationItem
	if err := attributevalue.UnmarshalMap(item, &oi); err != nil {
		return ports.LogEntry{}, fmt.Errorf("failed to unmarshal operation item: %w", err)
	}

	var data, inverse operation.Payload
	if err := json.Unmarshal([]byte(oi.Data), &data); err != nil {
		return ports.LogEntry{}, fmt.Errorf("failed to unmarshal operation data: %w", err)
	}
	if err := json.Unmarshal([]byte(oi.Inverse), &inverse); err != nil {
		return ports.LogEntry{}, fmt.Errorf("failed to unmarshal operation inverse: %w", err)
	}

	appliedAt, _ := time.Parse(time.RFC3339Nano, oi.AppliedAt)
	createdAt, _ := time.Parse(time.RFC3339Nano, oi.CreatedAt)

	return ports.LogEntry{
		Operation: operation.Operation{
			ID:         valueobjects.OperationID(oi.OperationID),
			Type:       operation.Type(oi.Type),
			WorkflowID: valueobjects.WorkflowID(oi.WorkflowID),
			UserID:     valueobjects.UserID(oi.UserID),
			Timestamp:  oi.Timestamp,
			CreatedAt:  createdAt,
			Data:       data,
			Inverse:    inverse,
		},
		AppliedAt: appliedAt,
		IsRemote:  oi.IsRemote,
	}, nil
}

func workflowPK(id valueobjects.WorkflowID) string {
	return fmt.Sprintf("WORKFLOW#%s", id)
}

// operationSK zero-pads the Lamport timestamp so lexicographic key order
// matches numeric order
func operationSK(timestamp uint64, id valueobjects.OperationID) string {
	return fmt.Sprintf("OP#%020d#%s", timestamp, id)
}
