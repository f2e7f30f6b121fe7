// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/onair-live/onair/internal/compositor"
)

// step is one scripted poll result.
type step struct {
	state     string
	mediaTime float64
	visible   bool
	fps       float64
	dropped   int64
	statusErr bool
}

type fakeReader struct {
	steps []step
	idx   int

	// advance, when non-zero, is added to the media time on every status
	// call so long-running samplers see a progressing clock.
	advance float64
	clock   float64
}

func (f *fakeReader) current() step {
	i := f.idx
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	return f.steps[i]
}

func (f *fakeReader) MediaStatus(context.Context, string) (*compositor.MediaStatus, error) {
	s := f.current()
	if s.statusErr {
		return nil, context.DeadlineExceeded
	}
	if f.advance > 0 {
		f.clock += f.advance
		return &compositor.MediaStatus{State: s.state, Time: f.clock}, nil
	}
	return &compositor.MediaStatus{State: s.state, Time: s.mediaTime}, nil
}

func (f *fakeReader) IsVisible(context.Context, string, string) bool {
	return f.current().visible
}

func (f *fakeReader) Stats(context.Context) (*compositor.Stats, error) {
	s := f.current()
	return &compositor.Stats{ActiveFPS: s.fps, OutputSkippedFrames: s.dropped}, nil
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// runSamples drives sampleOnce through the scripted steps, advancing the
// clock by the poll interval between polls.
func runSamples(t *testing.T, steps []step) *Monitor {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 3, 58, 0, 0, time.UTC)}
	reader := &fakeReader{steps: steps}
	sink := newHourlyWriter(t.TempDir())
	m := newMonitor("Live", "rtmp://ingest/live/dj_1", "Main", time.Second, reader, sink, clock.now)
	for i := range steps {
		reader.idx = i
		m.sampleOnce(context.Background())
		clock.advance(time.Second)
	}
	sink.Close()
	return m
}

func playingStep(mediaTime float64) step {
	return step{state: compositor.MediaStatePlaying, mediaTime: mediaTime, visible: true, fps: 60, dropped: 0}
}

func TestHealthyStreamScoresFull(t *testing.T) {
	m := runSamples(t, []step{
		playingStep(1000), playingStep(2000), playingStep(3000),
	})
	snap, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, 100.0, snap.HealthScore)
	assert.Equal(t, StatusExcellent, snap.Status())
	assert.Equal(t, PipelinePlaying, snap.PipelineState)
	assert.Empty(t, snap.Issues)
	assert.False(t, snap.VisibilityProblematic)
}

func TestVisibilityProblematicDetection(t *testing.T) {
	m := runSamples(t, []step{
		{state: compositor.MediaStateBuffering, mediaTime: 1000, visible: true, fps: 60},
	})
	snap, ok := m.Latest()
	require.True(t, ok)
	assert.True(t, snap.VisibilityProblematic)
	assert.Equal(t, PipelineBuffering, snap.VisibilityIssueType)
	assert.Contains(t, snap.Issues, "CRITICAL_VISIBLE_WHILE_BUFFERING")
	assert.LessOrEqual(t, snap.HealthScore, 50.0)
}

func TestHiddenNonPlayingIsNotProblematic(t *testing.T) {
	m := runSamples(t, []step{
		{state: compositor.MediaStateBuffering, mediaTime: 1000, visible: false, fps: 60},
	})
	snap, _ := m.Latest()
	assert.False(t, snap.VisibilityProblematic)
	assert.Contains(t, snap.Issues, IssuePipelineBuffering)
}

func TestPlaybackStallDetection(t *testing.T) {
	m := runSamples(t, []step{
		playingStep(5000), playingStep(5000), playingStep(5000),
	})
	snap, _ := m.Latest()
	assert.Contains(t, snap.Issues, IssuePlaybackStalled)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, int64(1), m.stallCount)
}

func TestTimestampJumpDetection(t *testing.T) {
	m := runSamples(t, []step{
		playingStep(1000), playingStep(2000), playingStep(60000),
	})
	snap, _ := m.Latest()
	found := false
	for _, issue := range snap.Issues {
		if len(issue) > len("TIMESTAMP_JUMP_") && issue[:len("TIMESTAMP_JUMP_")] == "TIMESTAMP_JUMP_" {
			found = true
		}
	}
	assert.True(t, found, "expected a TIMESTAMP_JUMP issue, got %v", snap.Issues)
}

func TestFrameDropRates(t *testing.T) {
	// 2 dropped frames over 1s: warn. 10 more over the next second: fault.
	m := runSamples(t, []step{
		playingStep(1000),
		{state: compositor.MediaStatePlaying, mediaTime: 2000, visible: true, fps: 60, dropped: 2},
		{state: compositor.MediaStatePlaying, mediaTime: 3000, visible: true, fps: 60, dropped: 12},
	})
	snaps := m.Snapshots()
	require.Len(t, snaps, 3)
	assert.Contains(t, snaps[1].Issues, IssueFrameDropsElevated)
	assert.Contains(t, snaps[2].Issues, IssueFrameDropsCritical)
	assert.LessOrEqual(t, snaps[2].HealthScore, 50.0)
}

func TestLowFPSDetection(t *testing.T) {
	m := runSamples(t, []step{
		{state: compositor.MediaStatePlaying, mediaTime: 1000, visible: true, fps: 18},
	})
	snap, _ := m.Latest()
	assert.Contains(t, snap.Issues, IssueLowFPS)
}

func TestScoreBoundsUnderCompoundFailure(t *testing.T) {
	// Error state, visible, stalled media clock, low jittery FPS.
	steps := make([]step, 6)
	for i := range steps {
		fps := 10.0
		if i%2 == 0 {
			fps = 20
		}
		steps[i] = step{state: compositor.MediaStateError, mediaTime: 500, visible: true, fps: fps, dropped: int64(i * 100)}
	}
	m := runSamples(t, steps)
	for _, snap := range m.Snapshots() {
		assert.GreaterOrEqual(t, snap.HealthScore, 0.0)
		assert.LessOrEqual(t, snap.HealthScore, 100.0)
	}
	snap, _ := m.Latest()
	assert.Equal(t, 0.0, snap.HealthScore)
	assert.Equal(t, StatusPoor, snap.Status())
}

func TestStatusErrorYieldsUnknownPipeline(t *testing.T) {
	m := runSamples(t, []step{
		{statusErr: true, visible: false, fps: 60},
	})
	snap, _ := m.Latest()
	assert.Equal(t, PipelineUnknown, snap.PipelineState)
	assert.Contains(t, snap.Issues, IssuePipelineUnknown)
}

func TestRingIsBounded(t *testing.T) {
	steps := make([]step, ringCapacity+25)
	for i := range steps {
		steps[i] = playingStep(float64(1000 * (i + 1)))
	}
	m := runSamples(t, steps)
	snaps := m.Snapshots()
	assert.Len(t, snaps, ringCapacity)
	assert.Equal(t, int64(ringCapacity+25), snaps[len(snaps)-1].PollCount)
}

func TestRegistryLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reader := &fakeReader{steps: []step{playingStep(1000)}, advance: 100}
	r := NewRegistry(Config{Scene: "Main", PollInterval: 100 * time.Millisecond, DataDir: t.TempDir()}, reader)

	r.Activate("Live", "rtmp://ingest/live/dj_1")
	assert.Equal(t, []string{"Live"}, r.Active())

	require.Eventually(t, func() bool {
		_, _, ok := r.LatestHealth("Live")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	score, status, ok := r.LatestHealth("Live")
	require.True(t, ok)
	assert.Equal(t, 100.0, score)
	assert.Equal(t, StatusExcellent, status)

	r.Deactivate("Live")
	assert.Empty(t, r.Active())
	r.Deactivate("Live") // idempotent

	r.Shutdown()
}

// steadyReader reports a healthy, progressing stream and is safe for
// concurrent samplers.
type steadyReader struct {
	mu    sync.Mutex
	clock float64
}

func (s *steadyReader) MediaStatus(context.Context, string) (*compositor.MediaStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock += 100
	return &compositor.MediaStatus{State: compositor.MediaStatePlaying, Time: s.clock}, nil
}

func (s *steadyReader) IsVisible(context.Context, string, string) bool { return true }

func (s *steadyReader) Stats(context.Context) (*compositor.Stats, error) {
	return &compositor.Stats{ActiveFPS: 60}, nil
}

// Replacing and removing the same source concurrently must never stop one
// sampler twice.
func TestRegistryConcurrentActivateDeactivate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewRegistry(Config{Scene: "Main", PollInterval: 100 * time.Millisecond, DataDir: t.TempDir()}, &steadyReader{})

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Activate("Live", "rtmp://ingest/live/dj_1")
		}()
		go func() {
			defer wg.Done()
			r.Deactivate("Live")
		}()
	}
	wg.Wait()

	r.Shutdown()
	assert.Empty(t, r.Active())
}

func TestPollIntervalClamping(t *testing.T) {
	cfg := Config{PollInterval: time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, cfg.withDefaults().PollInterval)

	cfg = Config{PollInterval: time.Minute}
	assert.Equal(t, 10*time.Second, cfg.withDefaults().PollInterval)

	cfg = Config{}
	assert.Equal(t, time.Second, cfg.withDefaults().PollInterval)
}
