// SPDX-License-Identifier: MIT

// Package notify holds the outbound side-effect clients: the chat webhook,
// the recording controller and the ingest kick endpoint. All of them are
// called from worker job handlers only, are best-effort and never block the
// control surface.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/onair-live/onair/internal/log"
)

// Notifier posts operator-facing messages somewhere humans look.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Recorder starts and stops the external recording controller.
type Recorder interface {
	StartRecording(ctx context.Context, streamKey string) error
	StopRecording(ctx context.Context, streamKey string) error
}

// Kicker drops a publisher from the ingest server so it reconnects and
// re-triggers the forward decision.
type Kicker interface {
	Kick(ctx context.Context, streamKey string) error
}

const defaultTimeout = 5 * time.Second

// WebhookNotifier sends chat messages as JSON to a webhook URL. An empty
// URL turns it into a no-op.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier builds a notifier for the given webhook URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
		logger: xlog.WithComponent("notify"),
	}
}

// Send implements Notifier.
func (n *WebhookNotifier) Send(ctx context.Context, message string) error {
	if n.url == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// HTTPRecorder drives a recording controller over its HTTP API. An empty
// base URL turns it into a no-op.
type HTTPRecorder struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPRecorder builds a recorder client for the controller base URL.
func NewHTTPRecorder(baseURL string) *HTTPRecorder {
	return &HTTPRecorder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  xlog.WithComponent("recorder"),
	}
}

// StartRecording implements Recorder.
func (r *HTTPRecorder) StartRecording(ctx context.Context, streamKey string) error {
	return r.post(ctx, "start", streamKey)
}

// StopRecording implements Recorder.
func (r *HTTPRecorder) StopRecording(ctx context.Context, streamKey string) error {
	return r.post(ctx, "stop", streamKey)
}

func (r *HTTPRecorder) post(ctx context.Context, action, streamKey string) error {
	if r.baseURL == "" {
		return nil
	}
	body, err := json.Marshal(map[string]string{"stream_key": streamKey})
	if err != nil {
		return fmt.Errorf("notify: encode recorder payload: %w", err)
	}
	url := fmt.Sprintf("%s/record/%s", r.baseURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build recorder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: recorder %s: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: recorder %s returned %d", action, resp.StatusCode)
	}
	r.logger.Debug().
		Str(xlog.FieldStreamKey, streamKey).
		Str(xlog.FieldAction, action).
		Msg("recorder call succeeded")
	return nil
}

// HTTPKicker kicks publishers via the ingest server's client API.
type HTTPKicker struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPKicker builds a kicker for the ingest API base URL.
func NewHTTPKicker(baseURL string) *HTTPKicker {
	return &HTTPKicker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  xlog.WithComponent("kicker"),
	}
}

// Kick implements Kicker.
func (k *HTTPKicker) Kick(ctx context.Context, streamKey string) error {
	if k.baseURL == "" {
		return nil
	}
	url := fmt.Sprintf("%s/api/v1/publishers/%s", k.baseURL, streamKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("notify: build kick request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: kick %s: %w", streamKey, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("notify: kick %s returned %d", streamKey, resp.StatusCode)
	}
	k.logger.Info().
		Str(xlog.FieldStreamKey, streamKey).
		Msg("publisher kicked")
	return nil
}
