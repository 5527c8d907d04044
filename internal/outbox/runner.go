package outbox

import (
	"context"
	"sync"

	"sentinal-call/config"
	"sentinal-call/internal/events"
	"sentinal-call/internal/repository"
	"sentinal-call/pkg/logger"
)

// Runner owns the processor goroutine.
type Runner struct {
	processor *Processor
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewRunner(processor *Processor) *Runner {
	return &Runner{processor: processor}
}

func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.processor.Run(ctx)
	}()
}

// Stop cancels the processor and waits for the current batch to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func DefaultProcessor(cfg *config.Config, repo repository.EventRepository, publisher events.Publisher, log *logger.Logger) *Processor {
	return NewProcessor(repo, publisher, log, cfg.OutboxBatchSize, cfg.OutboxInterval, cfg.OutboxMaxRetries)
}
