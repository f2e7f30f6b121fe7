// SPDX-License-Identifier: MIT

// Package monitor samples the compositor's view of the active source and
// turns it into health snapshots: a score, a pipeline state, stall and
// jitter indicators, and the visible-while-not-playing detection that is
// the root cause of frozen frames during switches.
package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/onair-live/onair/internal/compositor"
	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/metrics"
)

// Reader is the read-only slice of the compositor client the monitor polls.
type Reader interface {
	MediaStatus(ctx context.Context, input string) (*compositor.MediaStatus, error)
	IsVisible(ctx context.Context, scene, source string) bool
	Stats(ctx context.Context) (*compositor.Stats, error)
}

const (
	ringCapacity      = 500
	historyCapacity   = 10
	fpsFloor          = 24.0
	fpsVarianceWindow = 5
	fpsVarianceLimit  = 5.0
	stallWindow       = 3
	jumpToleranceMs   = 3000.0
	dropRateWarn      = 1.0
	dropRateFault     = 5.0
)

// Monitor samples one source while it is active.
type Monitor struct {
	source   string
	rtmpURL  string
	scene    string
	interval time.Duration
	reader   Reader
	sink     *hourlyWriter
	logger   zerolog.Logger
	now      func() time.Time

	stop chan struct{}
	done chan struct{}

	mu          sync.Mutex
	ring        []Snapshot
	activatedAt time.Time
	pollCount   int64
	stallCount  int64
	lastStatus  string

	// Sampling histories, touched only by the sampler goroutine.
	mediaTimes  []float64
	fpsHistory  []float64
	lastDropped int64
	haveDropped bool
	lastSample  time.Time
}

func newMonitor(source, rtmpURL, scene string, interval time.Duration, reader Reader, sink *hourlyWriter, now func() time.Time) *Monitor {
	return &Monitor{
		source:      source,
		rtmpURL:     rtmpURL,
		scene:       scene,
		interval:    interval,
		reader:      reader,
		sink:        sink,
		logger:      xlog.WithComponent("monitor").With().Str("source", source).Logger(),
		now:         now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		activatedAt: now(),
	}
}

// run is the sampler loop. The stop flag is checked at poll boundaries.
func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce(ctx)
		}
	}
}

// sampleOnce performs one poll and derives a snapshot.
func (m *Monitor) sampleOnce(ctx context.Context) {
	now := m.now()

	status, statusErr := m.reader.MediaStatus(ctx, m.source)
	visible := m.reader.IsVisible(ctx, m.scene, m.source)
	stats, _ := m.reader.Stats(ctx)

	snap := Snapshot{
		Timestamp:  now,
		Monotonic:  now.Sub(m.activatedAt),
		SourceName: m.source,
		RTMPURL:    m.rtmpURL,
		SceneName:  m.scene,
		IsVisible:  visible,
	}

	mediaState := ""
	if statusErr == nil && status != nil {
		mediaState = status.State
		snap.MediaState = status.State
		snap.MediaDuration = status.Duration
		snap.MediaTime = status.Time
	}
	snap.PipelineState = pipelineState(mediaState)

	var issues, warns []string

	switch snap.PipelineState {
	case PipelinePlaying:
		// healthy
	case PipelineBuffering:
		issues = append(issues, IssuePipelineBuffering)
	case PipelinePaused:
		issues = append(issues, IssuePipelinePaused)
	case PipelineStopped:
		issues = append(issues, IssuePipelineStopped)
	case PipelineError:
		issues = append(issues, IssuePipelineError)
	default:
		issues = append(issues, IssuePipelineUnknown)
	}

	if stats != nil {
		snap.FPS = stats.ActiveFPS
		snap.DroppedFrames = stats.OutputSkippedFrames

		m.fpsHistory = appendBounded(m.fpsHistory, stats.ActiveFPS, historyCapacity)
		if fpsDrop(m.fpsHistory) {
			issues = append(issues, IssueLowFPS)
		}
		if fpsVariance(m.fpsHistory) {
			issues = append(issues, IssueFPSVariance)
			warns = append(warns, "fps variance above threshold")
		}

		if m.haveDropped && !m.lastSample.IsZero() {
			dt := now.Sub(m.lastSample).Seconds()
			if dt > 0 {
				rate := float64(stats.OutputSkippedFrames-m.lastDropped) / dt
				if rate < 0 {
					rate = 0 // counter reset on reconnect
				}
				snap.FrameDropRate = rate
				switch {
				case rate > dropRateFault:
					issues = append(issues, IssueFrameDropsCritical)
				case rate > dropRateWarn:
					issues = append(issues, IssueFrameDropsElevated)
					warns = append(warns, "elevated frame drop rate")
				}
			}
		}
		m.lastDropped = stats.OutputSkippedFrames
		m.haveDropped = true
	}

	if statusErr == nil && status != nil {
		if len(m.mediaTimes) > 0 {
			deltaMs := status.Time - m.mediaTimes[len(m.mediaTimes)-1]
			if math.Abs(deltaMs-float64(m.interval.Milliseconds())) > jumpToleranceMs {
				issues = append(issues, timestampJumpIssue(deltaMs))
				warns = append(warns, "media timestamp discontinuity")
			}
		}
		m.mediaTimes = appendBounded(m.mediaTimes, status.Time, historyCapacity)

		if snap.PipelineState == PipelinePlaying && stalled(m.mediaTimes) {
			m.mu.Lock()
			m.stallCount++
			m.mu.Unlock()
			issues = append(issues, IssuePlaybackStalled)
		}
	}

	if snap.IsVisible && snap.PipelineState != PipelinePlaying {
		snap.VisibilityProblematic = true
		snap.VisibilityIssueType = snap.PipelineState
		issues = append(issues, visibilityIssue(snap.PipelineState))
	}

	snap.Issues = issues
	snap.PipelineWarns = warns
	snap.HealthScore = computeScore(issues)

	m.lastSample = now

	m.mu.Lock()
	m.pollCount++
	snap.PollCount = m.pollCount
	m.ring = append(m.ring, snap)
	if len(m.ring) > ringCapacity {
		m.ring = m.ring[len(m.ring)-ringCapacity:]
	}
	previous := m.lastStatus
	current := snap.Status()
	m.lastStatus = current
	m.mu.Unlock()

	metrics.RecordHealthScore(m.source, snap.HealthScore)

	if err := m.sink.append(&snap); err != nil {
		m.logger.Warn().Err(err).Msg("append health csv row")
	}

	// Log only on categorical transitions to avoid spam.
	if previous != current {
		m.logger.Info().
			Str(xlog.FieldOldState, previous).
			Str(xlog.FieldNewState, current).
			Float64("health_score", snap.HealthScore).
			Str("pipeline_state", snap.PipelineState).
			Str(xlog.FieldMediaState, snap.MediaState).
			Float64(xlog.FieldFPS, snap.FPS).
			Strs("issues", snap.Issues).
			Msg("stream health status changed")
	}
}

// Latest returns the most recent snapshot, if any.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ring) == 0 {
		return Snapshot{}, false
	}
	return m.ring[len(m.ring)-1], true
}

// Snapshots returns a copy of the retained ring, oldest first.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.ring...)
}

func appendBounded(history []float64, v float64, capacity int) []float64 {
	history = append(history, v)
	if len(history) > capacity {
		history = history[len(history)-capacity:]
	}
	return history
}

// fpsDrop reports whether any of the last 3 samples fell below the floor.
func fpsDrop(history []float64) bool {
	n := len(history)
	if n == 0 {
		return false
	}
	start := n - 3
	if start < 0 {
		start = 0
	}
	for _, v := range history[start:] {
		if v < fpsFloor {
			return true
		}
	}
	return false
}

// fpsVariance reports whether max-min over the last window exceeds the limit.
// It needs at least fpsVarianceWindow samples.
func fpsVariance(history []float64) bool {
	if len(history) < fpsVarianceWindow {
		return false
	}
	window := history[len(history)-fpsVarianceWindow:]
	minV, maxV := window[0], window[0]
	for _, v := range window[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return maxV-minV > fpsVarianceLimit
}

// stalled reports whether the last stallWindow media times are identical.
func stalled(times []float64) bool {
	if len(times) < stallWindow {
		return false
	}
	window := times[len(times)-stallWindow:]
	for _, v := range window[1:] {
		if v != window[0] {
			return false
		}
	}
	return true
}
