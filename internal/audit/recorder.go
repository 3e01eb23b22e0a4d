package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"parceltrack.org/internal/obs"
)

// Hit is one analytics row: a completed request.
type Hit struct {
	At     time.Time
	Method string
	Path   string
	UserID *string
}

// Sink persists analytics rows.
type Sink interface {
	RecordHit(ctx context.Context, h Hit) error
}

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 2 * time.Second
)

// Recorder writes hits to a Sink from a background worker. Record never blocks
// and never reports failures to the caller.
type Recorder struct {
	sink         Sink
	queue        chan Hit
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
	mu           sync.RWMutex
	closed       bool
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithQueueSize bounds the number of pending hits.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Hit, n)
		}
	}
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// NewRecorder starts the worker goroutine. Call Close to stop it.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:         sink,
		queue:        make(chan Hit, defaultQueueSize),
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record enqueues a hit, dropping it when the queue is full or the recorder is closed.
func (r *Recorder) Record(h Hit) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- h:
	default:
		obs.AnalyticsDropped()
	}
}

// Close stops accepting hits, drains the queue and waits for the worker.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for h := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		if err := r.sink.RecordHit(ctx, h); err != nil {
			obs.AnalyticsDropped()
			obs.Logger().Debug("analytics write failed", zap.Error(err), zap.String("path", h.Path))
		}
		cancel()
	}
}
