package intent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/metrics"
)

// DefaultQueueSize bounds the number of waiting requests.
const DefaultQueueSize = 64

type job struct {
	ctx    context.Context
	text   string
	author string
	reply  chan jobResult
}

type jobResult struct {
	res *Result
	err error
}

// Queue serializes requests to a classifier: one request in flight, FIFO
// order and a pause between consecutive requests.
type Queue struct {
	inner Classifier
	delay time.Duration
	log   *slog.Logger

	jobs  chan *job
	depth atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewQueue wraps inner. size <= 0 uses DefaultQueueSize.
func NewQueue(inner Classifier, delay time.Duration, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		inner: inner,
		delay: delay,
		log:   logging.WithComponent("classifier-queue"),
		jobs:  make(chan *job, size),
		done:  make(chan struct{}),
	}
}

// Start launches the worker.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go q.run()
	})
}

// Stop ends the worker and waits for it. Requests still queued fail with
// ErrUnavailable.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}

// Len returns the number of queued and in-flight requests.
func (q *Queue) Len() int {
	return int(q.depth.Load())
}

// Classify enqueues a request and waits for its result or ctx.
func (q *Queue) Classify(ctx context.Context, text, author string) (*Result, error) {
	j := &job{ctx: ctx, text: text, author: author, reply: make(chan jobResult, 1)}

	select {
	case <-q.done:
		return nil, fmt.Errorf("%w: queue stopped", ErrUnavailable)
	default:
	}

	select {
	case q.jobs <- j:
		metrics.SetQueueDepth(int(q.depth.Add(1)))
	case <-q.done:
		return nil, fmt.Errorf("%w: queue stopped", ErrUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.res, r.err
	case <-q.done:
		return nil, fmt.Errorf("%w: queue stopped", ErrUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Health delegates to the wrapped classifier when it supports probing.
func (q *Queue) Health(ctx context.Context) error {
	if h, ok := q.inner.(HealthChecker); ok {
		return h.Health(ctx)
	}
	return nil
}

func (q *Queue) run() {
	defer q.wg.Done()

	var last time.Time
	for {
		select {
		case <-q.done:
			q.drain()
			return
		case j := <-q.jobs:
			if !last.IsZero() && !q.pause(q.delay-time.Since(last)) {
				q.finish(j, jobResult{err: fmt.Errorf("%w: queue stopped", ErrUnavailable)})
				q.drain()
				return
			}
			q.process(j)
			last = time.Now()
		}
	}
}

func (q *Queue) process(j *job) {
	if err := j.ctx.Err(); err != nil {
		q.finish(j, jobResult{err: err})
		return
	}

	var r jobResult
	func() {
		defer func() {
			if p := recover(); p != nil {
				q.log.Error("classifier panicked", slog.Any("panic", p))
				r = jobResult{err: fmt.Errorf("%w: classifier panic: %v", ErrUnavailable, p)}
			}
		}()
		r.res, r.err = q.inner.Classify(j.ctx, j.text, j.author)
	}()
	q.finish(j, r)
}

func (q *Queue) finish(j *job, r jobResult) {
	metrics.SetQueueDepth(int(q.depth.Add(-1)))
	j.reply <- r
}

func (q *Queue) pause(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.done:
		return false
	}
}

func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			q.finish(j, jobResult{err: fmt.Errorf("%w: queue stopped", ErrUnavailable)})
		default:
			return
		}
	}
}
