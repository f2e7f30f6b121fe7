// SPDX-License-Identifier: MIT

package worker

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	xlog "github.com/onair-live/onair/internal/log"
)

var timingHeader = []string{"timestamp", "job_type", "wait_time_ms", "execution_time_ms", "total_time_ms"}

// timingWriter appends one CSV row per processed job. The file and header
// are created lazily on the first row.
type timingWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	csv  *csv.Writer
}

func newTimingWriter(path string) *timingWriter {
	return &timingWriter{path: path}
}

func (t *timingWriter) record(at time.Time, jobType string, wait, exec time.Duration) {
	if t.path == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		if err := t.openLocked(); err != nil {
			logger := xlog.WithComponent("worker")
			logger.Warn().Err(err).Msg("open job timing csv")
			return
		}
	}

	row := []string{
		at.UTC().Format(time.RFC3339Nano),
		jobType,
		fmt.Sprintf("%.1f", float64(wait.Microseconds())/1000),
		fmt.Sprintf("%.1f", float64(exec.Microseconds())/1000),
		fmt.Sprintf("%.1f", float64((wait + exec).Microseconds())/1000),
	}
	if err := t.csv.Write(row); err != nil {
		logger := xlog.WithComponent("worker")
		logger.Warn().Err(err).Msg("write job timing row")
		return
	}
	t.csv.Flush()
}

func (t *timingWriter) openLocked() error {
	info, statErr := os.Stat(t.path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	t.file = f
	t.csv = csv.NewWriter(f)
	if fresh {
		if err := t.csv.Write(timingHeader); err != nil {
			return err
		}
		t.csv.Flush()
	}
	return nil
}

func (t *timingWriter) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.csv.Flush()
		_ = t.file.Close()
		t.file = nil
	}
}
