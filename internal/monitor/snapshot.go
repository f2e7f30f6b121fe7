// SPDX-License-Identifier: MIT

package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/onair-live/onair/internal/compositor"
)

// Pipeline states derived from the compositor's media state.
const (
	PipelinePlaying   = "PLAYING"
	PipelineBuffering = "BUFFERING"
	PipelinePaused    = "PAUSED"
	PipelineStopped   = "STOPPED"
	PipelineError     = "ERROR"
	PipelineUnknown   = "UNKNOWN"
)

// Issue codes. The CRITICAL_ prefix caps the health score at 50.
const (
	IssuePipelineError      = "CRITICAL_PIPELINE_ERROR"
	IssuePipelineStopped    = "CRITICAL_PIPELINE_STOPPED"
	IssuePipelineBuffering  = "PIPELINE_BUFFERING"
	IssuePipelinePaused     = "PIPELINE_PAUSED"
	IssuePipelineUnknown    = "PIPELINE_UNKNOWN"
	IssuePlaybackStalled    = "PLAYBACK_STALLED"
	IssueLowFPS             = "LOW_FPS"
	IssueFPSVariance        = "FPS_VARIANCE"
	IssueFrameDropsCritical = "CRITICAL_FRAME_DROPS"
	IssueFrameDropsElevated = "ELEVATED_FRAME_DROPS"
)

// Categorical health statuses, logged only on transitions.
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusDegraded  = "degraded"
	StatusPoor      = "poor"
)

// Snapshot is one poll of the compositor's view of a source.
type Snapshot struct {
	Timestamp     time.Time
	Monotonic     time.Duration // since monitor activation
	SourceName    string
	RTMPURL       string
	SceneName     string
	MediaState    string
	MediaDuration float64
	MediaTime     float64 // milliseconds
	IsVisible     bool
	FPS           float64
	DroppedFrames int64
	BufferLevel   float64
	PipelineState string
	PipelineWarns []string
	FrameDropRate float64
	HealthScore   float64
	Issues        []string
	PollCount     int64

	VisibilityProblematic bool
	VisibilityIssueType   string
}

// Status buckets the score into a categorical health status.
func (s *Snapshot) Status() string {
	switch {
	case s.HealthScore >= 90:
		return StatusExcellent
	case s.HealthScore >= 70:
		return StatusGood
	case s.HealthScore >= 40:
		return StatusDegraded
	default:
		return StatusPoor
	}
}

// pipelineState maps a compositor media state onto the pipeline vocabulary.
func pipelineState(mediaState string) string {
	switch mediaState {
	case compositor.MediaStatePlaying:
		return PipelinePlaying
	case compositor.MediaStateOpening, compositor.MediaStateBuffering:
		return PipelineBuffering
	case compositor.MediaStatePaused:
		return PipelinePaused
	case compositor.MediaStateStopped, compositor.MediaStateEnded, compositor.MediaStateNone:
		return PipelineStopped
	case compositor.MediaStateError:
		return PipelineError
	default:
		return PipelineUnknown
	}
}

// scoreDeductions maps issues to their health score penalty.
var scoreDeductions = map[string]float64{
	IssuePipelineError:      60,
	IssuePipelineStopped:    50,
	IssuePipelineBuffering:  30,
	IssuePipelinePaused:     20,
	IssuePipelineUnknown:    20,
	IssuePlaybackStalled:    40,
	IssueLowFPS:             15,
	IssueFPSVariance:        10,
	IssueFrameDropsCritical: 50,
	IssueFrameDropsElevated: 10,
}

// computeScore starts at 100, subtracts per issue and clamps to [0,100].
// Any CRITICAL_ issue caps the result at 50.
func computeScore(issues []string) float64 {
	score := 100.0
	critical := false
	for _, issue := range issues {
		if strings.HasPrefix(issue, "CRITICAL_") {
			critical = true
		}
		code := issue
		if idx := strings.Index(issue, "_JUMP_"); idx >= 0 {
			// TIMESTAMP_JUMP_{ms} carries a variable suffix.
			code = "TIMESTAMP_JUMP"
		}
		if d, ok := scoreDeductions[code]; ok {
			score -= d
		} else if code == "TIMESTAMP_JUMP" {
			score -= 10
		} else if strings.HasPrefix(code, "CRITICAL_VISIBLE_WHILE_") {
			score -= 50
		}
	}
	if score < 0 {
		score = 0
	}
	if critical && score > 50 {
		score = 50
	}
	return score
}

// visibilityIssue names the visible-while-not-playing condition for a
// specific non-playing pipeline state.
func visibilityIssue(pipeline string) string {
	return fmt.Sprintf("CRITICAL_VISIBLE_WHILE_%s", pipeline)
}

// timestampJumpIssue encodes the discontinuity size into the issue code.
func timestampJumpIssue(deltaMs float64) string {
	return fmt.Sprintf("TIMESTAMP_JUMP_%.0fms", deltaMs)
}
