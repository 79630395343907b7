// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package dispatch sends sampled frames to the vision backend.
//
// Frames arrive through a bounded queue and are processed by a fixed pool of
// workers, so completion order across frames (even of one session) is not
// capture order. Each frame ends in exactly one terminal status: completed
// (and published once) or failed with a recorded reason.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/model"
	"github.com/ManuGH/framegate/internal/domain/stream/ports"
	"github.com/ManuGH/framegate/internal/log"
	"github.com/ManuGH/framegate/internal/metrics"
	"github.com/ManuGH/framegate/internal/resilience"
	"github.com/ManuGH/framegate/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ManuGH/framegate/internal/domain/stream/dispatch"

const maxFailureReasonLen = 512

// Defaults follow the backend retry policy: three attempts, 100ms/500ms/2s.
var DefaultBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

const (
	DefaultAttempts  = 3
	DefaultTimeout   = 5 * time.Second
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Job is one sampled frame waiting for analysis.
type Job struct {
	SessionID   string
	FrameID     string
	FrameNumber int64
	Image       []byte
	EnqueuedAt  time.Time
}

// ResultSink receives each successful analysis exactly once.
type ResultSink interface {
	Publish(ctx context.Context, sessionID string, frame *model.FrameRecord, res *model.AnalysisResult)
}

// Config tunes the dispatcher.
type Config struct {
	Workers   int
	QueueSize int
	// Attempts is the total number of backend calls per frame, including the first.
	Attempts int
	// Backoff[i] is the delay before attempt i+2; the last entry repeats.
	Backoff []time.Duration
	// Timeout bounds a single backend call.
	Timeout time.Duration
	Prompt  string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Dispatcher owns the analysis workers.
type Dispatcher struct {
	cfg      Config
	analyzer ports.Analyzer
	repo     ports.Repository
	sink     ResultSink
	breaker  *resilience.CircuitBreaker
	tracer   trace.Tracer
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	closed  bool
	started bool
	queue   chan Job
	workers workerGroup
	cancel  context.CancelFunc
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithCircuitBreaker guards backend calls; an open breaker counts as a transient failure.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(d *Dispatcher) { d.breaker = cb }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep overrides the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// WithTracer overrides the tracer (defaults to the global provider).
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New creates a dispatcher. Call Start before submitting.
func New(cfg Config, analyzer ports.Analyzer, repo ports.Repository, sink ResultSink, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:      cfg,
		analyzer: analyzer,
		repo:     repo,
		sink:     sink,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		sleep:    sleepContext,
		queue:    make(chan Job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool. Jobs run under a context derived from ctx
// that is cancelled when Close gives up waiting.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.cfg.Workers; i++ {
		d.workers.Go(func() { d.work(runCtx) })
	}
	logger := log.WithComponent("dispatch")
	logger.Info().
		Int("workers", d.cfg.Workers).
		Int("queue_size", d.cfg.QueueSize).
		Int("attempts", d.cfg.Attempts).
		Dur("timeout", d.cfg.Timeout).
		Msg("analysis dispatcher started")
}

// Submit enqueues a sampled frame without blocking. When the queue is full or
// the dispatcher is closed the frame is marked failed immediately and false
// is returned.
func (d *Dispatcher) Submit(ctx context.Context, job Job) bool {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.drop(ctx, job, model.FailureShutdown)
		return false
	}
	select {
	case d.queue <- job:
		metrics.SetDispatchQueueDepth(len(d.queue))
		d.mu.RUnlock()
		return true
	default:
		d.mu.RUnlock()
		d.drop(ctx, job, model.FailureQueueFull)
		return false
	}
}

// Close stops accepting jobs and waits for queued work to drain. If ctx
// expires first, in-flight backend calls are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for job := range d.queue {
			d.drop(ctx, job, model.FailureShutdown)
		}
		return nil
	}

	err := d.workers.CloseAndWait(ctx)
	if err != nil {
		d.cancel()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = d.workers.CloseAndWait(drainCtx)
	}
	d.cancel()
	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	for job := range d.queue {
		metrics.SetDispatchQueueDepth(len(d.queue))
		d.process(ctx, job)
	}
}

func (d *Dispatcher) drop(ctx context.Context, job Job, reason string) {
	metrics.RecordDispatchDrop(reason)
	logger := log.WithComponentFromContext(ctx, "dispatch")
	logger.Warn().
		Str(log.FieldSessionID, job.SessionID).
		Str(log.FieldFrameID, job.FrameID).
		Int64(log.FieldFrameNumber, job.FrameNumber).
		Str(log.FieldReason, reason).
		Msg("sampled frame dropped before analysis")
	d.fail(context.WithoutCancel(ctx), job, reason, 0)
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	start := d.now()
	ctx, span := d.tracer.Start(ctx, "vision.analyze", trace.WithAttributes(
		telemetry.FrameAttributes(job.SessionID, job.FrameID, job.FrameNumber, len(job.Image))...,
	))
	defer span.End()

	logger := log.WithComponent("dispatch").With().
		Str(log.FieldSessionID, job.SessionID).
		Str(log.FieldFrameID, job.FrameID).
		Int64(log.FieldFrameNumber, job.FrameNumber).
		Logger()

	var (
		res      *model.AnalysisResult
		err      error
		attempts int
	)
	for attempt := 1; attempt <= d.cfg.Attempts; attempt++ {
		attempts = attempt
		res, err = d.call(ctx, job)
		if err == nil {
			metrics.RecordAnalysisAttempt("success")
			break
		}
		if ports.IsPermanent(err) {
			metrics.RecordAnalysisAttempt("permanent")
			break
		}
		metrics.RecordAnalysisAttempt("transient")
		logger.Debug().Err(err).Int(log.FieldAttempt, attempt).Msg("analysis attempt failed")
		if attempt == d.cfg.Attempts {
			break
		}
		if serr := d.sleep(ctx, d.backoff(attempt)); serr != nil {
			err = serr
			break
		}
	}

	// Terminal writes must land even if the worker context was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	took := d.now().Sub(start)

	if err != nil {
		span.SetAttributes(telemetry.AnalysisAttributes(string(model.AnalysisFailed), "", attempts)...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		metrics.RecordAnalysisResult(string(model.AnalysisFailed), took.Seconds())
		logger.Warn().Err(err).Int(log.FieldAttempt, attempts).Dur(log.FieldDuration, took).Msg("frame analysis failed")
		d.fail(persistCtx, job, failureReason(err), attempts)
		return
	}

	span.SetAttributes(telemetry.AnalysisAttributes(string(model.AnalysisCompleted), res.Model, attempts)...)
	frame, uerr := d.repo.UpdateFrame(persistCtx, job.FrameID, func(f *model.FrameRecord) error {
		return f.Complete(d.now().UTC(), res, attempts, took)
	})
	if uerr != nil {
		logger.Error().Err(ports.WrapStorage("update_frame", uerr)).Msg("failed to record analysis result")
		// A pending record would never resolve; mark it failed if the store lets us.
		d.fail(persistCtx, job, model.FailureNotPersisted, attempts)
		frame = &model.FrameRecord{
			ID:           job.FrameID,
			SessionID:    job.SessionID,
			FrameNumber:  job.FrameNumber,
			Sampled:      true,
			Status:       model.AnalysisCompleted,
			ProcessingMS: took.Milliseconds(),
			Result:       res,
		}
	}
	metrics.RecordAnalysisResult(string(model.AnalysisCompleted), took.Seconds())
	logger.Debug().Int(log.FieldAttempt, attempts).Dur(log.FieldDuration, took).Msg("frame analysed")

	if d.sink != nil {
		d.sink.Publish(persistCtx, job.SessionID, frame, res)
	}
}

func (d *Dispatcher) call(ctx context.Context, job Job) (*model.AnalysisResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req := ports.AnalysisRequest{
		SessionID:   job.SessionID,
		FrameID:     job.FrameID,
		FrameNumber: job.FrameNumber,
		Image:       job.Image,
		Prompt:      d.cfg.Prompt,
	}

	var res *model.AnalysisResult
	run := func() error {
		r, err := d.analyzer.Analyze(callCtx, req)
		if err != nil {
			return err
		}
		if r == nil {
			return ports.Permanent(errors.New("backend returned no result"))
		}
		res = r
		return nil
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(run)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = ports.Transient(err)
		}
	} else {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) fail(ctx context.Context, job Job, reason string, attempts int) {
	_, err := d.repo.UpdateFrame(ctx, job.FrameID, func(f *model.FrameRecord) error {
		return f.Fail(d.now().UTC(), reason, attempts)
	})
	if err != nil {
		logger := log.WithComponent("dispatch")
		logger.Error().
			Err(ports.WrapStorage("update_frame", err)).
			Str(log.FieldFrameID, job.FrameID).
			Msg("failed to record analysis failure")
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	if len(d.cfg.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(d.cfg.Backoff) {
		idx = len(d.cfg.Backoff) - 1
	}
	return d.cfg.Backoff[idx]
}

func failureReason(err error) string {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("timeout: %s", msg)
	}
	if len(msg) > maxFailureReasonLen {
		// Drop a rune split by the cut.
		msg = strings.ToValidUTF8(msg[:maxFailureReasonLen], "")
	}
	return msg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
