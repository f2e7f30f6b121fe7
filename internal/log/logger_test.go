// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureOnce(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "onair-test"})
	// Second call must be a no-op.
	Configure(Config{Level: "error", Service: "other"})

	logger := WithComponent("queue")
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "onair-test", entry["service"])
	assert.Equal(t, "queue", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}

func TestContextCorrelation(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithJobID(ctx, "job-2")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "job-2", JobIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))

	var buf bytes.Buffer
	logger := WithContext(ctx, Derive(nil))
	logger = logger.Output(&buf)
	logger.Info().Msg("correlated")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "job-2", entry["job_id"])
}
