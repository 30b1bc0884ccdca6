package device

import (
	"context"
	"sync/atomic"
	"time"
)

// StateHistoryEntry represents a single accepted write.
//
// Each entry stores a full snapshot of the device state after the write,
// giving a local audit trail even when the time-series database is
// unavailable.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Device is the unique device name.
	Device string `json:"dev"`

	// Attr is the attribute the write targeted.
	Attr string `json:"attr"`

	// State is the snapshot of the device state after the write.
	State State `json:"state"`

	// Source identifies where the write came from (command, sensor, upstream, mqtt).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the write (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records one accepted write.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - name: Unique device name
	//   - attr: Attribute written
	//   - state: State snapshot to persist
	//   - source: Origin of the write
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, name, attr string, state State, source Source) error

	// GetHistory returns recent history for the device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - name: Unique device name
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	GetHistory(ctx context.Context, name string, limit int) ([]StateHistoryEntry, error)
}

// historyQueueSize bounds writes waiting for the history database.
const historyQueueSize = 256

// historyDrainTimeout bounds how long Run keeps writing queued entries after
// its context is cancelled.
const historyDrainTimeout = 5 * time.Second

type historyJob struct {
	dev    string
	attr   string
	state  State
	source Source
}

// HistoryRecorder is a Publisher writing every event to a history repository.
//
// Publish only enqueues; Run performs the writes in event order. When the
// queue is full the event is dropped and counted.
type HistoryRecorder struct {
	repo    StateHistoryRepository
	logger  Logger
	queue   chan historyJob
	dropped atomic.Uint64
}

// NewHistoryRecorder creates a recorder. A nil logger discards errors.
func NewHistoryRecorder(repo StateHistoryRepository, logger Logger) *HistoryRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistoryRecorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan historyJob, historyQueueSize),
	}
}

// Publish queues ev for recording. It never blocks.
func (h *HistoryRecorder) Publish(_ context.Context, ev Event) {
	select {
	case h.queue <- historyJob{dev: ev.Dev, attr: ev.Attr, state: ev.State, source: ev.Source}:
	default:
		h.dropped.Add(1)
		h.logger.Warn("state history queue full, dropping entry", "dev", ev.Dev, "attr", ev.Attr)
	}
}

// Run writes queued entries until ctx is cancelled, then flushes whatever is
// still queued within historyDrainTimeout.
//
// Returns:
//   - error: Always nil. The signature fits errgroup.Group.Go.
func (h *HistoryRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.drain()
			return nil
		case job := <-h.queue:
			h.record(ctx, job)
		}
	}
}

func (h *HistoryRecorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), historyDrainTimeout)
	defer cancel()
	for {
		select {
		case job := <-h.queue:
			h.record(ctx, job)
		default:
			return
		}
	}
}

func (h *HistoryRecorder) record(ctx context.Context, job historyJob) {
	if err := h.repo.RecordStateChange(ctx, job.dev, job.attr, job.state, job.source); err != nil {
		h.logger.Warn("recording state history", "dev", job.dev, "error", err)
	}
}

// Dropped returns the number of entries discarded because the queue was full.
func (h *HistoryRecorder) Dropped() uint64 { return h.dropped.Load() }
