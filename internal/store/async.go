package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AsyncWriter moves mirror writes off the caller's goroutine. Enqueue never
// blocks; records are dropped when the queue is full.
type AsyncWriter struct {
	mirror  Mirror
	log     *zap.Logger
	timeout time.Duration
	queue   chan Record

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncWriter starts a writer with a queue of size records. Each write is
// bounded by timeout.
func NewAsyncWriter(m Mirror, log *zap.Logger, size int, timeout time.Duration) *AsyncWriter {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &AsyncWriter{
		mirror:  m,
		log:     log,
		timeout: timeout,
		queue:   make(chan Record, size),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules rec for writing and reports whether it was accepted.
func (w *AsyncWriter) Enqueue(rec Record) (accepted bool) {
	defer func() {
		// Enqueue after Close
		if recover() != nil {
			accepted = false
		}
	}()

	select {
	case w.queue <- rec:
		return true
	default:
		w.log.Debug("presence mirror queue full, dropping record", zap.String("user_id", rec.UserID))
		return false
	}
}

// Close stops accepting records and waits until queued ones are written.
func (w *AsyncWriter) Close() {
	w.closeOnce.Do(func() { close(w.queue) })
	<-w.done
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.mirror.Save(ctx, rec); err != nil {
			w.log.Warn("presence mirror write failed", zap.String("user_id", rec.UserID), zap.Error(err))
		}
		cancel()
	}
}
