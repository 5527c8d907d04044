package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"sentinal-call/internal/domain/event"
	"sentinal-call/internal/events"
	"sentinal-call/internal/repository"
	"sentinal-call/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Processor publishes committed outbox rows to their push channel.
type Processor struct {
	repo       repository.EventRepository
	publisher  events.Publisher
	log        *logger.Logger
	clock      func() time.Time
	batchSize  int
	interval   time.Duration
	maxRetries int
}

func NewProcessor(repo repository.EventRepository, publisher events.Publisher, log *logger.Logger, batchSize int, interval time.Duration, maxRetries int) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Processor{
		repo:       repo,
		publisher:  publisher,
		log:        log.Named("outbox"),
		clock:      time.Now,
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch publishes one batch of pending events and returns how many
// were delivered.
func (p *Processor) ProcessBatch(ctx context.Context) int {
	eventsBatch, err := p.repo.GetPendingOutboxEvents(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("failed to load outbox events", zap.Error(err))
		}
		return 0
	}

	delivered := 0
	for _, e := range eventsBatch {
		if e.RetryCount >= p.maxRetries {
			_ = p.repo.MarkOutboxEventFailed(ctx, e.ID, p.clock().Add(time.Hour), "max retries exceeded")
			continue
		}
		if p.publish(ctx, e) {
			delivered++
		}
	}
	return delivered
}

func (p *Processor) publish(ctx context.Context, e event.OutboxEvent) bool {
	env := events.Envelope{
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID.String(),
		OccurredAt:    e.CreatedAt.UTC(),
		Payload:       json.RawMessage(e.Payload),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		p.fail(ctx, e, err)
		return false
	}

	if err := p.publisher.Publish(ctx, e.Channel, payload); err != nil {
		p.fail(ctx, e, err)
		return false
	}

	if err := p.repo.MarkOutboxEventProcessed(ctx, e.ID); err != nil {
		p.log.Warn("failed to mark outbox event processed", zap.String("event_id", e.ID.String()), zap.Error(err))
	}
	_ = p.repo.CreateOutboxEventDelivery(ctx, &event.OutboxEventDelivery{
		ID:            uuid.New(),
		EventID:       e.ID,
		AttemptNumber: e.RetryCount + 1,
		Status:        event.DeliveryDelivered,
		CreatedAt:     p.clock().UTC(),
	})
	return true
}

func (p *Processor) fail(ctx context.Context, e event.OutboxEvent, cause error) {
	p.log.Warn("outbox publish failed",
		zap.String("event_id", e.ID.String()),
		zap.String("channel", e.Channel),
		zap.Int("attempt", e.RetryCount+1),
		zap.Error(cause),
	)
	_ = p.repo.MarkOutboxEventFailed(ctx, e.ID, p.clock().Add(backoff(e.RetryCount)), cause.Error())
	_ = p.repo.CreateOutboxEventDelivery(ctx, &event.OutboxEventDelivery{
		ID:            uuid.New(),
		EventID:       e.ID,
		AttemptNumber: e.RetryCount + 1,
		Status:        event.DeliveryFailed,
		ErrorMessage:  sql.NullString{String: cause.Error(), Valid: true},
		CreatedAt:     p.clock().UTC(),
	})
}

// backoff doubles from 500ms, capped at 30s.
func backoff(retries int) time.Duration {
	d := 500 * time.Millisecond
	for i := 0; i < retries && d < 30*time.Second; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
