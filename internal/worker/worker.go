// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/metrics"
)

// Compositor is the slice of the compositor client the job handlers drive.
// The worker goroutine is the only caller of these control operations.
type Compositor interface {
	ToggleSource(ctx context.Context, scene, source string, onlyOff bool) error
	RestartMedia(ctx context.Context, input string) error
	SwitchToNewSource(ctx context.Context, rtmpURL, scene string) bool
}

// Notifier posts human-facing messages.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Recorder starts and stops recordings.
type Recorder interface {
	StartRecording(ctx context.Context, streamKey string) error
	StopRecording(ctx context.Context, streamKey string) error
}

// Kicker drops a publisher from the ingest server.
type Kicker interface {
	Kick(ctx context.Context, streamKey string) error
}

// HealthReader exposes the monitor's latest view of a source.
type HealthReader interface {
	LatestHealth(source string) (score float64, status string, ok bool)
}

// Deps are the worker's collaborators. Nil members turn the corresponding
// handlers into logged no-ops.
type Deps struct {
	Compositor Compositor
	Notifier   Notifier
	Recorder   Recorder
	Kicker     Kicker
	Health     HealthReader
}

// Config tunes the worker.
type Config struct {
	// JobDelay is the minimum spacing between compositor-class jobs.
	// Default 2s.
	JobDelay time.Duration
	// Scene, StreamSource and LoadingSource are the default compositor
	// object names when a payload does not carry its own.
	Scene         string
	StreamSource  string
	LoadingSource string
	// TimingCSVPath receives one row per processed job. Empty disables it.
	TimingCSVPath string
}

// Worker is the single consumer of the job queue.
type Worker struct {
	queue  *Queue
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	timing *timingWriter
	done   chan struct{}

	// lastCompositorEnd is only touched by the consumer goroutine.
	lastCompositorEnd time.Time
}

// New creates a worker bound to its queue.
func New(queue *Queue, cfg Config, deps Deps) *Worker {
	if cfg.JobDelay <= 0 {
		cfg.JobDelay = 2 * time.Second
	}
	return &Worker{
		queue:  queue,
		deps:   deps,
		cfg:    cfg,
		logger: xlog.WithComponent("worker"),
		timing: newTimingWriter(cfg.TimingCSVPath),
		done:   make(chan struct{}),
	}
}

// Run consumes jobs until the queue is closed and drained or ctx is done.
// Run must be called at most once per Worker.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	defer w.timing.close()
	for {
		job, ok := w.queue.Dequeue()
		if !ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.process(ctx, job)
	}
}

// process executes one job: spacing, handler dispatch with panic
// containment, timing row, metrics. Failed jobs are not re-enqueued.
func (w *Worker) process(ctx context.Context, job Job) {
	if job.IsCompositorClass() {
		w.waitForSpacing(ctx)
	}

	execStart := time.Now()
	wait := execStart.Sub(job.EnqueuedAt)

	outcome := "ok"
	if err := w.dispatch(ctx, job); err != nil {
		outcome = "error"
		w.logger.Error().
			Err(err).
			Str(xlog.FieldJobID, job.ID).
			Str(xlog.FieldJobType, string(job.Type)).
			Msg("job failed")
	}

	execEnd := time.Now()
	if job.IsCompositorClass() {
		w.lastCompositorEnd = execEnd
	}

	exec := execEnd.Sub(execStart)
	metrics.ObserveJob(string(job.Type), outcome, wait, exec)
	w.timing.record(execEnd, string(job.Type), wait, exec)

	w.logger.Debug().
		Str(xlog.FieldJobID, job.ID).
		Str(xlog.FieldJobType, string(job.Type)).
		Dur("wait", wait).
		Dur("exec", exec).
		Str("outcome", outcome).
		Msg("job processed")
}

// WaitDrained blocks until Run has returned, so callers tearing down the
// worker's collaborators know no job is still in flight. The wait is
// bounded by ctx.
func (w *Worker) WaitDrained(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForSpacing sleeps until JobDelay has passed since the previous
// compositor-class job finished.
func (w *Worker) waitForSpacing(ctx context.Context) {
	if w.lastCompositorEnd.IsZero() {
		return
	}
	elapsed := time.Since(w.lastCompositorEnd)
	if elapsed >= w.cfg.JobDelay {
		return
	}
	select {
	case <-time.After(w.cfg.JobDelay - elapsed):
	case <-ctx.Done():
	}
}

// dispatch routes the job to its handler, converting panics into errors.
func (w *Worker) dispatch(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str(xlog.FieldJobType, string(job.Type)).
				Msg("job panicked")
			err = errJobPanic(job.Type, r)
		}
	}()

	ctx = xlog.ContextWithJobID(ctx, job.ID)

	switch job.Type {
	case TypeStartStream:
		return w.handleStartStream(ctx, job)
	case TypeToggleSource:
		return w.handleToggleSource(ctx, job)
	case TypeKickPublisher:
		return w.handleKickPublisher(ctx, job)
	case TypeRestartMedia:
		return w.handleRestartMedia(ctx, job)
	case TypeStopRecording:
		return w.handleStopRecording(ctx, job)
	case TypeSendNotification:
		return w.handleSendNotification(ctx, job)
	case TypeFlashLoading:
		return w.handleFlashLoading(ctx)
	case TypeCheckStreamHealth:
		return w.handleCheckStreamHealth(job)
	case TypeSwitchDynamicSource:
		return w.handleSwitchDynamicSource(ctx, job)
	case TypeSwitchStream:
		// Reserved: switches are executed synchronously by the stream
		// manager, not through the worker.
		w.logger.Warn().Str(xlog.FieldJobID, job.ID).Msg("ignoring reserved SWITCH_STREAM job")
		return nil
	default:
		return errUnknownJobType(job.Type)
	}
}
