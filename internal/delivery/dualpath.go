package delivery

import (
	"context"
	"sync"
	"time"

	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 2 * time.Second
	pushRetryMin        = 250 * time.Millisecond
	pushRetryMax        = 5 * time.Second
)

// Config describes one logical event stream delivered over both paths.
type Config[T any] struct {
	// Name labels log lines.
	Name string

	// Subscribe runs the push path. It calls deliver for every pushed item
	// and blocks until ctx ends or the subscription breaks. Nil disables push.
	Subscribe func(ctx context.Context, deliver func(T)) error

	// Fetch runs the poll path. Returned items go through the same filter.
	Fetch func(ctx context.Context) ([]T, error)

	// Key identifies an item for deduplication, typically entity id plus
	// status or sequence. Items with an empty key are dropped.
	Key func(T) string

	// Handle is called at most once per key, never concurrently.
	Handle func(T)

	Interval time.Duration

	// UnavailableAfter is how long both paths may stay silent before
	// OnUnavailable fires. Defaults to three poll intervals.
	UnavailableAfter time.Duration
	OnUnavailable    func(error)
	OnRecovered      func()

	// DedupCapacity bounds the key memory.
	DedupCapacity int

	Logger *logger.Logger
}

// DualPath merges a best-effort push path and a periodic poll path into one
// serialized, deduplicated handler: whichever path delivers first wins and
// the other becomes a no-op.
type DualPath[T any] struct {
	cfg    Config[T]
	dedup  *Deduper[string]
	log    *logger.Logger
	cancel context.CancelFunc
	poke   chan struct{}

	handleMu sync.Mutex

	mu          sync.Mutex
	stopped     bool
	lastHealthy time.Time
	unavailable bool
}

// Start launches both paths. They run until Stop or until ctx ends.
func Start[T any](ctx context.Context, cfg Config[T]) *DualPath[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.UnavailableAfter <= 0 {
		cfg.UnavailableAfter = 3 * cfg.Interval
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &DualPath[T]{
		cfg:         cfg,
		dedup:       NewDeduper[string](cfg.DedupCapacity),
		log:         log.Named("delivery").With(zap.String("stream", cfg.Name)),
		cancel:      cancel,
		poke:        make(chan struct{}, 1),
		lastHealthy: time.Now(),
	}
	if cfg.Subscribe != nil {
		go d.runPush(ctx)
	}
	if cfg.Fetch != nil {
		go d.runPoll(ctx)
	}
	return d
}

// Offer pushes a locally observed item through the filter, e.g. the result
// of a write this client issued itself. It reports whether Handle ran.
func (d *DualPath[T]) Offer(item T) bool {
	return d.deliver(item)
}

// Poke requests an immediate poll.
func (d *DualPath[T]) Poke() {
	select {
	case d.poke <- struct{}{}:
	default:
	}
}

// Stop detaches both paths. It does not wait for a running Handle, so it is
// safe to call from inside Handle. Repeated calls are no-ops.
func (d *DualPath[T]) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
}

func (d *DualPath[T]) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *DualPath[T]) deliver(item T) bool {
	key := d.cfg.Key(item)
	if key == "" {
		return false
	}
	d.handleMu.Lock()
	defer d.handleMu.Unlock()
	if d.isStopped() || !d.dedup.First(key) {
		return false
	}
	d.cfg.Handle(item)
	return true
}

func (d *DualPath[T]) runPush(ctx context.Context) {
	wait := pushRetryMin
	for {
		err := d.cfg.Subscribe(ctx, func(item T) {
			d.markHealthy()
			d.deliver(item)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.log.Debug("push path interrupted", zap.Error(err), zap.Duration("retry_in", wait))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait *= 2; wait > pushRetryMax {
			wait = pushRetryMax
		}
	}
}

func (d *DualPath[T]) runPoll(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.poke:
		}
		d.pollOnce(ctx)
	}
}

func (d *DualPath[T]) pollOnce(ctx context.Context) {
	items, err := d.cfg.Fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		d.log.Debug("poll failed", zap.Error(err))
		d.checkUnavailable()
		return
	}
	d.markHealthy()
	for _, item := range items {
		d.deliver(item)
	}
}

func (d *DualPath[T]) markHealthy() {
	d.mu.Lock()
	d.lastHealthy = time.Now()
	recovered := d.unavailable && !d.stopped
	d.unavailable = false
	d.mu.Unlock()
	if recovered {
		d.log.Info("delivery recovered")
		if d.cfg.OnRecovered != nil {
			d.cfg.OnRecovered()
		}
	}
}

func (d *DualPath[T]) checkUnavailable() {
	d.mu.Lock()
	fire := !d.unavailable && !d.stopped && time.Since(d.lastHealthy) > d.cfg.UnavailableAfter
	if fire {
		d.unavailable = true
	}
	d.mu.Unlock()
	if fire {
		d.log.Warn("both delivery paths silent", zap.Duration("after", d.cfg.UnavailableAfter))
		if d.cfg.OnUnavailable != nil {
			d.cfg.OnUnavailable(sentinal_errors.ErrTransportUnavailable)
		}
	}
}
