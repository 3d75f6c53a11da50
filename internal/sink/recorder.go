// Package sink moves finished-match data to durable storage off the match
// workers. Writes are queued, retried with exponential backoff and never
// block the caller.
package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"quiz-match-service/internal/domain"
	"quiz-match-service/internal/metrics"
)

// Sink is the durable store for results and leaderboard history.
type Sink interface {
	AppendLeaderboardEntry(ctx context.Context, entry domain.LeaderboardEntry) error
	RecordMatchResult(ctx context.Context, result domain.MatchResult) error
}

// Options tune the recorder.
type Options struct {
	QueueSize       int
	Workers         int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

type job struct {
	kind   string
	entry  domain.LeaderboardEntry
	result domain.MatchResult
}

func (j job) key() string {
	if j.kind == "result" {
		return j.result.MatchID
	}
	return j.entry.MatchID + "/" + j.entry.PlayerID
}

// Recorder is a bounded queue in front of a Sink.
type Recorder struct {
	sink    Sink
	opts    Options
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

func NewRecorder(s Sink, opts Options, log logrus.FieldLogger, m *metrics.Metrics) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 2 * time.Minute
	}
	return &Recorder{
		sink:    s,
		opts:    opts,
		log:     log.WithField("component", "sink"),
		metrics: m,
		queue:   make(chan job, opts.QueueSize),
	}
}

// EnqueueEntry queues a leaderboard entry. It reports false when the queue is
// full or closed.
func (r *Recorder) EnqueueEntry(entry domain.LeaderboardEntry) bool {
	return r.enqueue(job{kind: "entry", entry: entry})
}

// EnqueueResult queues a match result.
func (r *Recorder) EnqueueResult(result domain.MatchResult) bool {
	return r.enqueue(job{kind: "result", result: result})
}

func (r *Recorder) enqueue(j job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped(j, "closed")
		return false
	}
	select {
	case r.queue <- j:
		return true
	default:
		r.dropped(j, "queue full")
		return false
	}
}

func (r *Recorder) dropped(j job, reason string) {
	r.log.WithFields(logrus.Fields{"kind": j.kind, "key": j.key()}).Warnf("sink job dropped: %s", reason)
	if r.metrics != nil {
		r.metrics.SinkDropped.Inc()
	}
}

// Run starts the workers and blocks until the queue is closed and drained, or
// ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.wg.Wait()
}

// Close stops accepting jobs. Workers finish what is already queued.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.queue)
}

func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-r.queue:
			if !ok {
				return
			}
			r.write(ctx, j)
		}
	}
}

func (r *Recorder) write(ctx context.Context, j job) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval
	b.MaxElapsedTime = r.opts.MaxElapsed

	attempt := 0
	op := func() error {
		attempt++
		var err error
		switch j.kind {
		case "result":
			err = r.sink.RecordMatchResult(ctx, j.result)
		default:
			err = r.sink.AppendLeaderboardEntry(ctx, j.entry)
		}
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.log.WithError(err).WithFields(logrus.Fields{
			"kind":    j.kind,
			"key":     j.key(),
			"attempt": attempt,
		}).Warnf("sink write failed, retrying in %s", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	result := "ok"
	if err != nil {
		result = "failed"
		r.log.WithError(err).WithFields(logrus.Fields{"kind": j.kind, "key": j.key()}).Error("sink write abandoned")
	}
	if r.metrics != nil {
		r.metrics.SinkWrites.WithLabelValues(j.kind, result).Inc()
	}
}
