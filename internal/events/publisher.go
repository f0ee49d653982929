package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pricewatch/pricewatch/internal/database"
	"github.com/pricewatch/pricewatch/internal/models"
)

const (
	EventRunCompleted       = "RUN_COMPLETED"
	EventPricePointRecorded = "PRICE_POINT_RECORDED"
)

// Publisher writes domain events into the transactional outbox. The relay
// forwards them to Redis asynchronously, so publishing never depends on
// broker availability.
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "events"),
	}
}

type runCompletedPayload struct {
	RunID        int64   `json:"run_id"`
	Status       string  `json:"status"`
	TotalTargets int     `json:"total_targets"`
	SuccessCount int     `json:"success_count"`
	FailCount    int     `json:"fail_count"`
	StartedAt    *string `json:"started_at,omitempty"`
	FinishedAt   *string `json:"finished_at,omitempty"`
}

// RunCompleted records the final state of a run in the outbox.
func (p *Publisher) RunCompleted(ctx context.Context, run *models.Run) error {
	payload := runCompletedPayload{
		RunID:        run.ID,
		Status:       string(run.Status),
		TotalTargets: run.TotalTargets,
		SuccessCount: run.SuccessCount,
		FailCount:    run.FailCount,
	}
	if run.StartedAt != nil {
		s := run.StartedAt.UTC().Format(time.RFC3339)
		payload.StartedAt = &s
	}
	if run.FinishedAt != nil {
		f := run.FinishedAt.UTC().Format(time.RFC3339)
		payload.FinishedAt = &f
	}

	return p.publish(ctx, "run", strconv.FormatInt(run.ID, 10), EventRunCompleted, payload)
}

type pricePointPayload struct {
	RunID      int64  `json:"run_id"`
	TargetID   int64  `json:"target_id"`
	Price      *int64 `json:"price,omitempty"`
	OldPrice   *int64 `json:"old_price,omitempty"`
	CardPrice  *int64 `json:"card_price,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// PricePointRecorded records a single appended price point in the outbox.
func (p *Publisher) PricePointRecorded(ctx context.Context, point *models.PricePoint) error {
	payload := pricePointPayload{
		RunID:      point.RunID,
		TargetID:   point.TargetID,
		Price:      point.Price,
		OldPrice:   point.OldPrice,
		CardPrice:  point.CardPrice,
		ErrorCode:  point.Error,
		RecordedAt: point.CollectedAt.UTC().Format(time.RFC3339),
	}

	return p.publish(ctx, "price_point", strconv.FormatInt(point.TargetID, 10), EventPricePointRecorded, payload)
}

func (p *Publisher) publish(ctx context.Context, aggregateType, aggregateID, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.outbox.InsertWithTx(ctx, tx, &database.OutboxEvent{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			EventType:     eventType,
			Payload:       data,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", eventType, err)
	}

	p.logger.Debug("event enqueued", "event_type", eventType, "aggregate_id", aggregateID)
	return nil
}
