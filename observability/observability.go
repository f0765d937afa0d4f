package observability

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/types"
)

const (
	eventChannelBufferSize = 100
	DefaultBatchSize       = 20
	DefaultBatchInterval   = 15 * time.Second
	flushTimeout           = 10 * time.Second
)

// Sink persists a batch of audit events.
type Sink interface {
	SaveEvents(ctx context.Context, events []types.AuditEvent) error
}

// Tracker forwards a completed audit to product analytics.
type Tracker interface {
	TrackAudit(ev types.AuditEvent)
}

// Config tunes the batching worker.
type Config struct {
	BatchSize     int
	BatchInterval time.Duration
}

// Recorder buffers audit events and flushes them to the sink in batches,
// either when the buffer is full or when the batch interval elapses.
type Recorder struct {
	sink    Sink
	tracker Tracker
	logger  *zap.Logger

	batchSize     int
	batchInterval time.Duration

	events chan types.AuditEvent
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// owned by the worker goroutine
	buffer      []types.AuditEvent
	lastFlushed time.Time
}

// NewRecorder starts the worker goroutine. Call Shutdown to flush and stop it.
func NewRecorder(sink Sink, tracker Tracker, cfg Config, logger *zap.Logger) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultBatchInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		sink:          sink,
		tracker:       tracker,
		logger:        logger.Named("observability"),
		batchSize:     cfg.BatchSize,
		batchInterval: cfg.BatchInterval,
		events:        make(chan types.AuditEvent, eventChannelBufferSize),
		buffer:        make([]types.AuditEvent, 0, cfg.BatchSize),
		lastFlushed:   time.Now(),
	}
	r.wg.Add(1)
	go r.run()
	r.logger.Debug("Observability: audit event worker started",
		zap.Int("batch_size", r.batchSize), zap.Duration("batch_interval", r.batchInterval))
	return r
}

// Record queues an event without blocking. Events recorded after Shutdown, or
// while the buffer is full, are dropped.
func (r *Recorder) Record(ev types.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("Observability: recorder is shut down, dropping event", zap.String("id", ev.ID))
		return
	}
	// Sending under the lock keeps Shutdown from closing the channel mid-send.
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("Observability: event channel full, dropping event", zap.String("id", ev.ID))
	}
}

// Shutdown stops accepting events, flushes what is buffered and waits for
// in-flight batches.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Debug("Observability: audit event worker stopped")
}

func (r *Recorder) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.batchInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				r.logger.Debug("Observability: event channel closed, flushing remaining buffer")
				r.flush()
				return
			}
			r.buffer = append(r.buffer, ev)
			if len(r.buffer) >= r.batchSize {
				r.logger.Debug("Observability: buffer full, flushing", zap.Int("size", len(r.buffer)))
				r.flush()
			}
		case <-ticker.C:
			if len(r.buffer) > 0 && time.Since(r.lastFlushed) >= r.batchInterval {
				r.logger.Debug("Observability: batch interval reached, flushing", zap.Int("size", len(r.buffer)))
				r.flush()
			}
		}
	}
}

// flush runs on the worker goroutine only, so the buffer needs no locking.
func (r *Recorder) flush() {
	r.lastFlushed = time.Now()
	if len(r.buffer) == 0 {
		return
	}
	batch := r.buffer
	r.buffer = make([]types.AuditEvent, 0, r.batchSize)

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := r.sink.SaveEvents(ctx, batch); err != nil {
		r.logger.Error("Observability: failed to save audit events", zap.Int("size", len(batch)), zap.Error(err))
	}
	if r.tracker != nil {
		for _, ev := range batch {
			r.tracker.TrackAudit(ev)
		}
	}
}
