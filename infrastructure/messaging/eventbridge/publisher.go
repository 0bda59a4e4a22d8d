// Package eventbridge publishes recorded operations to an AWS EventBridge
// bus so external integrations (audit pipelines, automation triggers) can
// react to workflow edits.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"flowdeck-backend/application/ports"
	"flowdeck-backend/domain/operation"
)

// SourceName identifies this service on the bus
const SourceName = "flowdeck.editor"

// Publisher implements the EventBus port on EventBridge. Calls run through
// a circuit breaker: when the bus is unreachable the breaker opens and
// publishes fail fast instead of stalling the editing path, which treats
// publication as best effort anyway.
type Publisher struct {
	client       *eventbridge.Client
	eventBusName string
	breaker      *gobreaker.CircuitBreaker
	logger       *zap.Logger
}

var _ ports.EventBus = (*Publisher)(nil)

func NewPublisher(client *eventbridge.Client, eventBusName string, logger *zap.Logger) *Publisher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eventbridge-publisher",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		breaker:      breaker,
		logger:       logger,
	}
}

// operationEvent is the event detail document
type operationEvent struct {
	OperationID string    `json:"operationId"`
	WorkflowID  string    `json:"workflowId"`
	UserID      string    `json:"userId"`
	Type        string    `json:"type"`
	Timestamp   uint64    `json:"timestamp"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PublishOperation publishes one recorded operation. Payload contents are
// intentionally excluded: consumers needing them read the archive.
func (p *Publisher) PublishOperation(ctx context.Context, op operation.Operation) error {
	detail, err := json.Marshal(operationEvent{
		OperationID: op.ID.String(),
		WorkflowID:  op.WorkflowID.String(),
		UserID:      op.UserID.String(),
		Type:        string(op.Type),
		Timestamp:   op.Timestamp,
		CreatedAt:   op.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal operation event: %w", err)
	}

	_, err = p.breaker.Execute(func() (any, error) {
		input := &eventbridge.PutEventsInput{
			Entries: []types.PutEventsRequestEntry{{
				EventBusName: aws.String(p.eventBusName),
				Source:       aws.String(SourceName),
				DetailType:   aws.String(fmt.Sprintf("workflow.operation.%s", op.Type)),
				Detail:       aws.String(string(detail)),
				Time:         aws.Time(op.CreatedAt),
				Resources: []string{
					fmt.Sprintf("arn:aws:flowdeck::%s", op.WorkflowID),
				},
			}},
		}
		result, err := p.client.PutEvents(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to publish operation event: %w", err)
		}
		if result.FailedEntryCount > 0 {
			for _, entry := range result.Entries {
				if entry.ErrorCode != nil {
					p.logger.Error("Event entry rejected",
						zap.String("operationId", op.ID.String()),
						zap.String("errorCode", aws.ToString(entry.ErrorCode)),
						zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
					)
				}
			}
			return nil, fmt.Errorf("%d event entries failed to publish", result.FailedEntryCount)
		}
		return nil, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			p.logger.Warn("Event publication skipped, circuit open",
				zap.String("operationId", op.ID.String()),
			)
		}
		return err
	}

	p.logger.Debug("Operation event published",
		zap.String("operationId", op.ID.String()),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}
