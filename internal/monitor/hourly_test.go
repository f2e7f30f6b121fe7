// SPDX-License-Identifier: MIT

package monitor

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapAt(ts time.Time, source string, score float64, issues ...string) *Snapshot {
	return &Snapshot{
		Timestamp:   ts,
		SourceName:  source,
		RTMPURL:     "rtmp://ingest/live/" + source,
		SceneName:   "Main",
		MediaState:  "OBS_MEDIA_STATE_PLAYING",
		HealthScore: score,
		Issues:      issues,
		PollCount:   1,
	}
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestHourlyFileIsCreatedLazily(t *testing.T) {
	dir := t.TempDir()
	w := newHourlyWriter(dir)
	defer w.Close()

	assert.Empty(t, listFiles(t, dir), "no file before the first row")

	ts := time.Date(2026, 3, 1, 3, 58, 12, 0, time.UTC)
	require.NoError(t, w.append(snapAt(ts, "dj_1", 100)))

	files := listFiles(t, dir)
	require.Len(t, files, 1)
	assert.Equal(t, "stream-health-20260301-030000.csv", files[0])
}

func TestHourlyRolloverWritesReport(t *testing.T) {
	dir := t.TempDir()
	w := newHourlyWriter(dir)
	defer w.Close()

	h3 := time.Date(2026, 3, 1, 3, 58, 0, 0, time.UTC)
	require.NoError(t, w.append(snapAt(h3, "dj_1", 100)))
	require.NoError(t, w.append(snapAt(h3.Add(time.Minute), "dj_1", 50, IssuePipelineBuffering)))

	// First row of the next hour closes the 03:00 file and emits its report.
	h4 := time.Date(2026, 3, 1, 4, 0, 1, 0, time.UTC)
	require.NoError(t, w.append(snapAt(h4, "dj_2", 90)))

	files := listFiles(t, dir)
	assert.ElementsMatch(t, []string{
		"stream-health-20260301-030000.csv",
		"stream-health-20260301-030000-report.txt",
		"stream-health-20260301-040000.csv",
	}, files)

	report, err := os.ReadFile(filepath.Join(dir, "stream-health-20260301-030000-report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "source: dj_1")
	assert.Contains(t, string(report), "samples: 2")
	assert.Contains(t, string(report), "average health score: 75.0")
	assert.Contains(t, string(report), IssuePipelineBuffering+": 1")
	assert.NotContains(t, string(report), "dj_2", "next hour's data stays out of the report")
}

func TestHourlyCSVShape(t *testing.T) {
	dir := t.TempDir()
	w := newHourlyWriter(dir)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.append(snapAt(ts, "dj_1", 80, IssueLowFPS)))
	require.NoError(t, w.append(snapAt(ts.Add(time.Second), "dj_1", 100)))
	w.Close()

	f, err := os.Open(filepath.Join(dir, "stream-health-20260301-120000.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	for _, row := range rows[1:] {
		assert.Len(t, row, len(csvHeader))
	}
	assert.Equal(t, "dj_1", rows[1][2])
	assert.Equal(t, IssueLowFPS, rows[1][17])
}

func TestCloseWithoutDataIsSafe(t *testing.T) {
	w := newHourlyWriter(t.TempDir())
	w.Close()
	w.Close() // idempotent
}
