// SPDX-License-Identifier: MIT

package monitor

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/onair-live/onair/internal/log"
)

var csvHeader = []string{
	"timestamp", "timestamp_str", "source_name", "rtmp_url",
	"media_state", "media_duration", "media_time", "is_visible", "scene_name",
	"obs_fps", "dropped_frames", "buffer_level", "gstreamer_state",
	"pipeline_healthy", "pipeline_warnings", "frame_drop_rate",
	"health_score", "issues", "poll_count",
	"visibility_problematic", "visibility_issue_type",
}

// sourceAgg accumulates per-source numbers for the hourly report.
type sourceAgg struct {
	samples  int
	scoreSum float64
	issues   map[string]int
}

// hourlyWriter appends snapshot rows to an hourly CSV shared by every
// monitor. The file handle is created lazily when the first row of an hour
// arrives, so idle hours produce no files. On rollover the previous file is
// closed and a companion text report is written next to it.
type hourlyWriter struct {
	mu     sync.Mutex
	dir    string
	logger zerolog.Logger

	file    *os.File
	csv     *csv.Writer
	hour    time.Time
	csvPath string
	agg     map[string]*sourceAgg
}

func newHourlyWriter(dir string) *hourlyWriter {
	return &hourlyWriter{
		dir:    dir,
		logger: xlog.WithComponent("monitor"),
		agg:    map[string]*sourceAgg{},
	}
}

func hourlyFilename(hour time.Time) string {
	return fmt.Sprintf("stream-health-%s.csv", hour.Format("20060102-150000"))
}

// append writes one snapshot row, rolling the file over on hour boundaries.
func (w *hourlyWriter) append(snap *Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := snap.Timestamp.Truncate(time.Hour)
	if w.file != nil && !hour.Equal(w.hour) {
		w.rolloverLocked()
	}
	if w.file == nil {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}

	if err := w.csv.Write(csvRow(snap)); err != nil {
		return fmt.Errorf("monitor: write csv row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("monitor: flush csv: %w", err)
	}

	agg := w.agg[snap.SourceName]
	if agg == nil {
		agg = &sourceAgg{issues: map[string]int{}}
		w.agg[snap.SourceName] = agg
	}
	agg.samples++
	agg.scoreSum += snap.HealthScore
	for _, issue := range snap.Issues {
		agg.issues[issue]++
	}
	return nil
}

func (w *hourlyWriter) openLocked(hour time.Time) error {
	path := filepath.Join(w.dir, hourlyFilename(hour))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("monitor: open hourly csv: %w", err)
	}
	w.file = f
	w.csv = csv.NewWriter(f)
	w.hour = hour
	w.csvPath = path
	w.agg = map[string]*sourceAgg{}

	info, err := f.Stat()
	if err == nil && info.Size() == 0 {
		if err := w.csv.Write(csvHeader); err != nil {
			return fmt.Errorf("monitor: write csv header: %w", err)
		}
		w.csv.Flush()
	}
	w.logger.Info().Str(xlog.FieldPath, path).Msg("hourly health csv opened")
	return nil
}

// rolloverLocked closes the current file and emits the summary report.
func (w *hourlyWriter) rolloverLocked() {
	w.csv.Flush()
	_ = w.file.Close()

	reportPath := strings.TrimSuffix(w.csvPath, ".csv") + "-report.txt"
	if err := os.WriteFile(reportPath, []byte(w.reportLocked()), 0o644); err != nil {
		w.logger.Warn().Err(err).Str(xlog.FieldPath, reportPath).Msg("write hourly report")
	} else {
		w.logger.Info().Str(xlog.FieldPath, reportPath).Msg("hourly health report written")
	}

	w.file = nil
	w.csv = nil
	w.agg = map[string]*sourceAgg{}
}

// reportLocked renders the per-source aggregates of the closed hour.
func (w *hourlyWriter) reportLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stream health report for hour starting %s\n\n", w.hour.Format(time.RFC3339))

	sources := make([]string, 0, len(w.agg))
	for s := range w.agg {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	for _, s := range sources {
		agg := w.agg[s]
		avg := 0.0
		if agg.samples > 0 {
			avg = agg.scoreSum / float64(agg.samples)
		}
		fmt.Fprintf(&b, "source: %s\n  samples: %d\n  average health score: %.1f\n", s, agg.samples, avg)
		if len(agg.issues) == 0 {
			b.WriteString("  issues: none\n")
		} else {
			issues := make([]string, 0, len(agg.issues))
			for code := range agg.issues {
				issues = append(issues, code)
			}
			sort.Strings(issues)
			b.WriteString("  issues:\n")
			for _, code := range issues {
				fmt.Fprintf(&b, "    %s: %d\n", code, agg.issues[code])
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Close flushes and closes any open file without emitting a report.
func (w *hourlyWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.csv.Flush()
		_ = w.file.Close()
		w.file = nil
		w.csv = nil
	}
}

func csvRow(s *Snapshot) []string {
	return []string{
		strconv.FormatInt(s.Timestamp.Unix(), 10),
		s.Timestamp.UTC().Format(time.RFC3339),
		s.SourceName,
		s.RTMPURL,
		s.MediaState,
		formatFloat(s.MediaDuration),
		formatFloat(s.MediaTime),
		strconv.FormatBool(s.IsVisible),
		s.SceneName,
		formatFloat(s.FPS),
		strconv.FormatInt(s.DroppedFrames, 10),
		formatFloat(s.BufferLevel),
		s.PipelineState,
		strconv.FormatBool(s.PipelineState == PipelinePlaying),
		strings.Join(s.PipelineWarns, "; "),
		formatFloat(s.FrameDropRate),
		formatFloat(s.HealthScore),
		strings.Join(s.Issues, "; "),
		strconv.FormatInt(s.PollCount, 10),
		strconv.FormatBool(s.VisibilityProblematic),
		s.VisibilityIssueType,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
