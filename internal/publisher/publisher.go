package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tinytelemetry/logfeed/internal/model"
)

// Config controls delivery of one run.
type Config struct {
	Topic            string
	PublishTimeout   time.Duration
	ThrottleInterval time.Duration
	Concurrency      int
	RunID            string
}

// Report summarizes a finished run.
type Report struct {
	Total       int
	Sent        int
	Failed      int
	Elapsed     time.Duration
	Interrupted bool
	SourceErr   error
}

// OK reports whether every record was delivered.
func (r Report) OK() bool {
	return r.Failed == 0 && !r.Interrupted && r.SourceErr == nil
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithDeadLetters routes failed records to sink.
func WithDeadLetters(sink DeadLetterSink) Option {
	return func(p *Publisher) { p.deadLetters = sink }
}

// Publisher sends records to the broker one key at a time.
type Publisher struct {
	producer    Producer
	cfg         Config
	logger      *log.Logger
	deadLetters DeadLetterSink

	total  atomic.Int64
	sent   atomic.Int64
	failed atomic.Int64
	done   atomic.Bool
}

// New creates a Publisher. The publisher owns producer and closes it at the
// end of Publish or PublishStream.
func New(producer Producer, cfg Config, logger *log.Logger, opts ...Option) *Publisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = model.DefaultPublishTimeout
	}
	if cfg.ThrottleInterval < 0 {
		cfg.ThrottleInterval = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = model.DefaultConcurrency
	}
	p := &Publisher{
		producer: producer,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Progress returns the live counters for the current run.
func (p *Publisher) Progress() model.Progress {
	return model.Progress{
		Total:  p.total.Load(),
		Sent:   p.sent.Load(),
		Failed: p.failed.Load(),
		Done:   p.done.Load(),
	}
}

// Publish sends every record of batch under keys log-0..log-(n-1), then
// flushes and closes the producer.
func (p *Publisher) Publish(ctx context.Context, batch model.Batch) Report {
	return p.PublishEntries(ctx, batch.Entries())
}

// PublishEntries sends pre-keyed entries in order, then flushes and closes
// the producer.
func (p *Publisher) PublishEntries(ctx context.Context, entries []model.Entry) Report {
	p.total.Store(int64(len(entries)))
	p.logf("Sending %d log entries to topic %q...", len(entries), p.cfg.Topic)

	ch := make(chan model.Entry)
	go func() {
		defer close(ch)
		for _, e := range entries {
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return p.run(ctx, ch, len(entries))
}

// PublishStream sends entries as they arrive on ch. The total is unknown up
// front and is reported as it grows.
func (p *Publisher) PublishStream(ctx context.Context, ch <-chan model.Entry) Report {
	p.logf("Streaming log entries to topic %q...", p.cfg.Topic)
	return p.run(ctx, ch, 0)
}

func (p *Publisher) run(ctx context.Context, ch <-chan model.Entry, total int) Report {
	start := time.Now()
	var sourceErr error
	if p.cfg.Concurrency == 1 {
		sourceErr = p.runSequential(ctx, ch, total)
	} else {
		sourceErr = p.runPool(ctx, ch, total)
	}

	interrupted := ctx.Err() != nil
	p.finish()
	p.done.Store(true)

	report := Report{
		Total:       int(p.total.Load()),
		Sent:        int(p.sent.Load()),
		Failed:      int(p.failed.Load()),
		Elapsed:     time.Since(start),
		Interrupted: interrupted,
		SourceErr:   sourceErr,
	}
	p.logReport(report)
	return report
}

func (p *Publisher) runSequential(ctx context.Context, ch <-chan model.Entry, total int) error {
	for e := range ch {
		if e.Err != nil {
			p.logf("Error reading logs at entry %d: %v", e.Index, e.Err)
			return e.Err
		}
		if ctx.Err() != nil {
			return nil
		}
		if total == 0 {
			p.total.Add(1)
		}
		p.deliver(ctx, e, total)
		if !p.pause(ctx) {
			return nil
		}
	}
	return nil
}

// runPool dispatches sends through a bounded errgroup. A shared limiter
// spaces dispatches by the throttle interval across all workers.
func (p *Publisher) runPool(ctx context.Context, ch <-chan model.Entry, total int) error {
	limit := rate.Inf
	if p.cfg.ThrottleInterval > 0 {
		limit = rate.Every(p.cfg.ThrottleInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	var sourceErr error
	for e := range ch {
		if e.Err != nil {
			p.logf("Error reading logs at entry %d: %v", e.Index, e.Err)
			sourceErr = e.Err
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if total == 0 {
			p.total.Add(1)
		}
		e := e
		g.Go(func() error {
			p.deliver(ctx, e, total)
			return nil
		})
	}
	_ = g.Wait()
	return sourceErr
}

// deliver publishes one entry. Failures are reported and never returned.
func (p *Publisher) deliver(ctx context.Context, e model.Entry, total int) {
	value, err := json.Marshal(e.Record)
	if err != nil {
		p.fail(e, fmt.Errorf("marshal record: %w", err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	err = p.producer.Send(sendCtx, model.Message{
		Key:     e.Key,
		Value:   value,
		Headers: p.headers(),
	})
	if err != nil {
		p.fail(e, err)
		return
	}

	p.sent.Add(1)
	if total > 0 {
		p.logf("Sent log %d/%d: %s - %s", e.Index+1, total, e.Record.Etat(), e.Record.Source())
	} else {
		p.logf("Sent log %d: %s - %s", e.Index+1, e.Record.Etat(), e.Record.Source())
	}
}

func (p *Publisher) fail(e model.Entry, err error) {
	p.failed.Add(1)
	p.logf("Error sending log %d: %v", e.Index, err)
	if p.deadLetters == nil {
		return
	}
	if _, derr := p.deadLetters.Append(e.Key, e.Record, err); derr != nil {
		p.logf("Error recording dead letter %s: %v", e.Key, derr)
	}
}

func (p *Publisher) headers() []model.Header {
	h := []model.Header{{Key: "content-type", Value: []byte("application/json")}}
	if p.cfg.RunID != "" {
		h = append(h, model.Header{Key: "run-id", Value: []byte(p.cfg.RunID)})
	}
	return h
}

// pause waits the throttle interval. It returns false if ctx ended first.
func (p *Publisher) pause(ctx context.Context) bool {
	if p.cfg.ThrottleInterval <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(p.cfg.ThrottleInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish flushes and releases the producer. It runs on its own deadline so an
// interrupted run still drains what it already handed to the broker.
func (p *Publisher) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()

	if err := p.producer.Flush(ctx); err != nil {
		p.logf("Error flushing producer: %v", err)
	}
	if err := p.producer.Close(); err != nil {
		p.logf("Error closing producer: %v", err)
	}
}

func (p *Publisher) logReport(r Report) {
	switch {
	case r.OK():
		p.logf("All logs sent successfully! (%d in %s)", r.Sent, r.Elapsed.Round(time.Millisecond))
	case r.Interrupted:
		p.logf("Interrupted: sent %d/%d logs, %d failed", r.Sent, r.Total, r.Failed)
	default:
		p.logf("Sent %d/%d logs, %d failed", r.Sent, r.Total, r.Failed)
	}
}

func (p *Publisher) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
