// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"errors"
	"fmt"
)

func errUnknownJobType(t Type) error {
	return fmt.Errorf("worker: unknown job type %q", t)
}

func errJobPanic(t Type, v any) error {
	return fmt.Errorf("worker: job %s panicked: %v", t, v)
}

// handleStartStream runs the lead startup sequence: announce, begin
// recording, show the scene source and reinitialize the media input.
func (w *Worker) handleStartStream(ctx context.Context, job Job) error {
	key := job.str(KeyStreamKey)
	name := job.str(KeyDisplayName)
	if name == "" {
		name = key
	}

	var errs []error
	if w.deps.Notifier != nil {
		if err := w.deps.Notifier.Send(ctx, fmt.Sprintf("%s is now live!", name)); err != nil {
			errs = append(errs, err)
		}
	}
	if w.deps.Recorder != nil {
		if err := w.deps.Recorder.StartRecording(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if w.deps.Compositor != nil {
		if err := w.deps.Compositor.ToggleSource(ctx, w.cfg.Scene, w.cfg.StreamSource, false); err != nil {
			errs = append(errs, err)
		}
		if err := w.deps.Compositor.RestartMedia(ctx, w.cfg.StreamSource); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) handleToggleSource(ctx context.Context, job Job) error {
	if w.deps.Compositor == nil {
		return nil
	}
	scene := job.str(KeyScene)
	if scene == "" {
		scene = w.cfg.Scene
	}
	source := job.str(KeySource)
	if source == "" {
		source = w.cfg.StreamSource
	}
	return w.deps.Compositor.ToggleSource(ctx, scene, source, job.boolean(KeyOnlyOff))
}

func (w *Worker) handleKickPublisher(ctx context.Context, job Job) error {
	if w.deps.Kicker == nil {
		return nil
	}
	return w.deps.Kicker.Kick(ctx, job.str(KeyStreamKey))
}

func (w *Worker) handleRestartMedia(ctx context.Context, job Job) error {
	if w.deps.Compositor == nil {
		return nil
	}
	input := job.str(KeyInput)
	if input == "" {
		input = w.cfg.StreamSource
	}
	return w.deps.Compositor.RestartMedia(ctx, input)
}

func (w *Worker) handleStopRecording(ctx context.Context, job Job) error {
	if w.deps.Recorder == nil {
		return nil
	}
	return w.deps.Recorder.StopRecording(ctx, job.str(KeyStreamKey))
}

func (w *Worker) handleSendNotification(ctx context.Context, job Job) error {
	if w.deps.Notifier == nil {
		return nil
	}
	return w.deps.Notifier.Send(ctx, job.str(KeyMessage))
}

// handleFlashLoading cycles the loading overlay so viewers see an
// intentional transition instead of a frozen frame.
func (w *Worker) handleFlashLoading(ctx context.Context) error {
	if w.deps.Compositor == nil {
		return nil
	}
	return w.deps.Compositor.ToggleSource(ctx, w.cfg.Scene, w.cfg.LoadingSource, false)
}

func (w *Worker) handleCheckStreamHealth(job Job) error {
	if w.deps.Health == nil {
		return nil
	}
	source := job.str(KeySource)
	if source == "" {
		source = w.cfg.StreamSource
	}
	score, status, ok := w.deps.Health.LatestHealth(source)
	if !ok {
		w.logger.Info().Str("source", source).Msg("no health snapshots yet")
		return nil
	}
	w.logger.Info().
		Str("source", source).
		Float64("health_score", score).
		Str("health_status", status).
		Msg("stream health check")
	return nil
}

func (w *Worker) handleSwitchDynamicSource(ctx context.Context, job Job) error {
	if w.deps.Compositor == nil {
		return nil
	}
	scene := job.str(KeyScene)
	if scene == "" {
		scene = w.cfg.Scene
	}
	rtmpURL := job.str(KeyRTMPURL)
	if ok := w.deps.Compositor.SwitchToNewSource(ctx, rtmpURL, scene); !ok {
		return fmt.Errorf("worker: dynamic source switch to %s failed", rtmpURL)
	}
	return nil
}
