// Package events persists the workflow event stream: a background write
// worker decouples database writes from SSE delivery, and the session sink
// folds chunked events into full rows before they are stored.
package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	queueCapacity = 2000
	stopTimeout   = 3 * time.Second
	errorBackoff  = 50 * time.Millisecond
	writeTimeout  = 10 * time.Second
)

// writeOp is one queued database write. The kind labels the operation for
// logging only.
type writeOp struct {
	kind  string
	apply func(context.Context) error
}

const opStop = "__stop__"

// WriteWorker serializes database writes on a single background goroutine.
// Enqueue never blocks: when the queue is full the write is dropped, so a
// slow database cannot stall event delivery.
type WriteWorker struct {
	queue   chan writeOp
	done    chan struct{}
	stopped atomic.Bool
}

// NewWriteWorker builds a worker; call Start before enqueueing.
func NewWriteWorker() *WriteWorker {
	return &WriteWorker{
		queue: make(chan writeOp, queueCapacity),
		done:  make(chan struct{}),
	}
}

// Start launches the background writer goroutine.
func (w *WriteWorker) Start() {
	go w.run()
}

// Enqueue queues one write without blocking. Writes enqueued after Stop
// are discarded.
func (w *WriteWorker) Enqueue(kind string, apply func(context.Context) error) {
	if w.stopped.Load() {
		return
	}
	select {
	case w.queue <- writeOp{kind: kind, apply: apply}:
	default:
		slog.Warn("Database write queue full, dropping write", "kind", kind)
	}
}

// Stop sends the stop sentinel so queued writes drain in order, then waits
// up to the stop timeout for the writer to exit.
func (w *WriteWorker) Stop() {
	if w.stopped.Swap(true) {
		return
	}
	select {
	case w.queue <- writeOp{kind: opStop}:
	default:
		// Queue full: the writer will drain it and block on the next
		// receive; abandon it rather than wait forever.
		slog.Warn("Database write queue full on shutdown, abandoning writer")
		return
	}
	select {
	case <-w.done:
	case <-time.After(stopTimeout):
		slog.Warn("Database writer did not drain before shutdown timeout")
	}
}

// run processes writes until the stop sentinel arrives. The loop keys off
// the sentinel, not the stopped flag, so writes enqueued before Stop are
// still applied in order.
func (w *WriteWorker) run() {
	defer close(w.done)
	for op := range w.queue {
		if op.kind == opStop {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := op.apply(ctx)
		cancel()
		if err != nil {
			slog.Warn("Database write failed", "kind", op.kind, "error", err)
			time.Sleep(errorBackoff)
		}
	}
}
