// Package parallel provides the bounded worker pool the evaluation engine
// uses for intra-query batch parallelism (spec §4.5: evaluating a Union
// node's independent branches concurrently, then joining their results
// before the next semi-naïve round starts). The pool is sized once from
// storage.performance.num_threads (spec §6) and never grows past it —
// backpressure comes from a bounded batch queue, not from autoscaling.
package parallel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolShutdown is returned when submitting a batch to a pool that has
// already been shut down.
var ErrPoolShutdown = fmt.Errorf("worker pool has been shutdown")

// WorkerPool runs batches — each one a Union branch's subplan — across a
// fixed set of goroutines. The
// queue capacity bounds how far a fixpoint round can run ahead of the
// workers actually draining it, which is the pool's only backpressure
// mechanism: Submit blocks once the queue is full.
type WorkerPool struct {
	numWorkers int
	batchChan  chan func()
	workerWg   sync.WaitGroup
	done       chan struct{}
	once       sync.Once

	stats *BatchStats
}

// NewWorkerPool creates a pool of numWorkers goroutines. A non-positive
// numWorkers defaults to the host's CPU count, matching storage.New's own
// convention that a numThreads of 0 means runtime.NumCPU.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	wp := &WorkerPool{
		numWorkers: numWorkers,
		batchChan:  make(chan func(), numWorkers*2),
		done:       make(chan struct{}),
		stats:      newBatchStats(),
	}

	for i := 0; i < numWorkers; i++ {
		wp.workerWg.Add(1)
		go wp.worker()
	}

	return wp
}

// worker drains batches off the shared channel until the pool shuts down.
func (wp *WorkerPool) worker() {
	defer wp.workerWg.Done()

	for {
		select {
		case batch, ok := <-wp.batchChan:
			if !ok {
				return
			}
			wp.runBatch(batch)
		case <-wp.done:
			return
		}
	}
}

// runBatch executes one batch, recovering a panicking branch so that one
// bad Union arm cannot take down the whole fixpoint round.
func (wp *WorkerPool) runBatch(batch func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			wp.stats.recordFailed(fmt.Errorf("batch panicked: %v", r))
			return
		}
		wp.stats.recordCompleted(time.Since(start))
	}()
	batch()
}

// Submit queues batch for execution by one of the pool's workers. Submit
// blocks until a slot opens in the queue, ctx is cancelled, or the pool is
// shut down — this blocking is the pool's backpressure: a caller that
// submits faster than workers drain naturally stalls instead of growing
// the queue without bound.
func (wp *WorkerPool) Submit(ctx context.Context, batch func()) error {
	wp.stats.recordSubmitted()
	// Shutdown closes batchChan, so the send below must never be attempted
	// once done is closed.
	select {
	case <-wp.done:
		wp.stats.recordCancelled()
		return ErrPoolShutdown
	default:
	}
	select {
	case wp.batchChan <- batch:
		wp.stats.recordQueueDepth(len(wp.batchChan))
		return nil
	case <-ctx.Done():
		wp.stats.recordCancelled()
		return ctx.Err()
	case <-wp.done:
		wp.stats.recordCancelled()
		return ErrPoolShutdown
	}
}

// Shutdown stops accepting new batches and waits for in-flight ones to
// finish.
func (wp *WorkerPool) Shutdown() {
	wp.once.Do(func() {
		close(wp.done)
		close(wp.batchChan)
		wp.workerWg.Wait()
		wp.stats.finalize()
	})
}

// NumWorkers returns the pool's fixed worker count.
func (wp *WorkerPool) NumWorkers() int { return wp.numWorkers }

// QueueDepth returns the number of batches currently queued.
func (wp *WorkerPool) QueueDepth() int { return len(wp.batchChan) }

// Stats returns a snapshot of the pool's batch-execution counters.
func (wp *WorkerPool) Stats() BatchStats { return wp.stats.snapshot() }

// BatchStats accumulates counts and timings for the batches a WorkerPool
// has run. Fields are exported so a snapshot can be embedded directly in
// a trace or stats payload.
type BatchStats struct {
	StartTime           time.Time
	EndTime             time.Time
	TotalDuration       time.Duration
	BatchesSubmitted    int64
	BatchesCompleted    int64
	BatchesFailed       int64
	BatchesCancelled    int64
	PeakQueueDepth      int
	AverageBatchTime    time.Duration
	LastError           error

	mu                  sync.Mutex
	totalBatchDuration   time.Duration
}

func newBatchStats() *BatchStats {
	return &BatchStats{StartTime: time.Now()}
}

func (bs *BatchStats) recordSubmitted() { atomic.AddInt64(&bs.BatchesSubmitted, 1) }
func (bs *BatchStats) recordCancelled() { atomic.AddInt64(&bs.BatchesCancelled, 1) }

func (bs *BatchStats) recordCompleted(d time.Duration) {
	atomic.AddInt64(&bs.BatchesCompleted, 1)
	bs.mu.Lock()
	bs.totalBatchDuration += d
	bs.mu.Unlock()
}

func (bs *BatchStats) recordFailed(err error) {
	atomic.AddInt64(&bs.BatchesFailed, 1)
	bs.mu.Lock()
	bs.LastError = err
	bs.mu.Unlock()
}

func (bs *BatchStats) recordQueueDepth(depth int) {
	bs.mu.Lock()
	if depth > bs.PeakQueueDepth {
		bs.PeakQueueDepth = depth
	}
	bs.mu.Unlock()
}

func (bs *BatchStats) finalize() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.EndTime = time.Now()
	bs.TotalDuration = bs.EndTime.Sub(bs.StartTime)
	if completed := atomic.LoadInt64(&bs.BatchesCompleted); completed > 0 {
		bs.AverageBatchTime = bs.totalBatchDuration / time.Duration(completed)
	}
}

func (bs *BatchStats) snapshot() BatchStats {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return BatchStats{
		StartTime:        bs.StartTime,
		EndTime:          bs.EndTime,
		TotalDuration:    bs.TotalDuration,
		BatchesSubmitted: atomic.LoadInt64(&bs.BatchesSubmitted),
		BatchesCompleted: atomic.LoadInt64(&bs.BatchesCompleted),
		BatchesFailed:    atomic.LoadInt64(&bs.BatchesFailed),
		BatchesCancelled: atomic.LoadInt64(&bs.BatchesCancelled),
		PeakQueueDepth:   bs.PeakQueueDepth,
		AverageBatchTime: bs.AverageBatchTime,
		LastError:        bs.LastError,
	}
}

// String renders a one-line summary.
func (bs BatchStats) String() string {
	return fmt.Sprintf("batches{submitted=%d completed=%d failed=%d cancelled=%d peak_queue=%d avg_time=%v}",
		bs.BatchesSubmitted, bs.BatchesCompleted, bs.BatchesFailed, bs.BatchesCancelled,
		bs.PeakQueueDepth, bs.AverageBatchTime)
}
