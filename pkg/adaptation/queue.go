package adaptation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetryQueue retries failed trait updates off the turn path.
//
// The orchestrator never blocks a response on a personality update: when a
// synchronous Apply fails, the signal is handed here and a worker goroutine
// retries it in the background. The buffer is bounded; when it is full the
// signal is dropped with a logged error rather than stalling a turn.
type RetryQueue struct {
	engine  *Engine
	logger  *zap.Logger
	signals chan Signal
	timeout time.Duration

	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRetryQueue starts the background worker. Size bounds the buffer; zero
// means 64. Timeout bounds each retry attempt; zero means 30s.
func NewRetryQueue(engine *Engine, size int, timeout time.Duration, logger *zap.Logger) *RetryQueue {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &RetryQueue{
		engine:  engine,
		logger:  logger,
		signals: make(chan Signal, size),
		timeout: timeout,
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// Enqueue hands a failed update to the background worker without blocking.
// Returns false when the signal was dropped, either because the buffer is
// full or because the queue is already closed.
func (q *RetryQueue) Enqueue(signal Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Error("trait update retry queue closed, signal dropped",
			zap.String("scope", signal.Scope.String()),
		)
		return false
	}

	select {
	case q.signals <- signal:
		return true
	default:
		q.logger.Error("trait update retry queue full, signal dropped",
			zap.String("scope", signal.Scope.String()),
		)
		return false
	}
}

func (q *RetryQueue) worker() {
	defer q.wg.Done()

	for signal := range q.signals {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		_, err := q.engine.Apply(ctx, signal)
		cancel()

		if err != nil {
			q.logger.Error("async trait update failed",
				zap.String("scope", signal.Scope.String()),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting signals and waits for in-flight retries to finish.
func (q *RetryQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.signals)
		q.mu.Unlock()
	})
	q.wg.Wait()
}
