// SPDX-License-Identifier: MIT

// Package compositor wraps the scene engine's WebSocket RPC. It is the only
// place that speaks the wire protocol and the only place that knows real
// scene and source names live in configuration, so the rest of the
// orchestrator stays decoupled from compositor vocabulary.
//
// The client keeps one persistent connection. Every RPC is serialized by the
// client's own mutex; on failure it reconnects with capped exponential
// backoff and retries the call once. After maxReconnectFailures consecutive
// failed reconnects it marks itself unhealthy and fails fast until
// ForceReconnect.
package compositor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/metrics"
)

// ErrUnhealthy is returned for every call once the client has given up
// reconnecting. ForceReconnect is the recovery path.
var ErrUnhealthy = errors.New("compositor: client unhealthy, force reconnect required")

// RequestError is a compositor-side rejection of an otherwise delivered RPC.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("compositor: %s rejected (code %d): %s", e.RequestType, e.Code, e.Comment)
}

// Config holds connection parameters for the compositor client.
type Config struct {
	URL      string // ws://host:port
	Password string
	// CallTimeout bounds a single RPC round trip. Default 5s.
	CallTimeout time.Duration
	// MaxReconnectFailures is the number of consecutive failed reconnects
	// before the client goes unhealthy. Default 5.
	MaxReconnectFailures int
	// SettlePause is the hide-to-unhide pause in ToggleSource. Default 300ms.
	SettlePause time.Duration
	// MaxReconnectInterval caps the reconnect backoff. Default 10s.
	MaxReconnectInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CallTimeout <= 0 {
		out.CallTimeout = 5 * time.Second
	}
	if out.MaxReconnectFailures <= 0 {
		out.MaxReconnectFailures = 5
	}
	if out.SettlePause <= 0 {
		out.SettlePause = 300 * time.Millisecond
	}
	if out.MaxReconnectInterval <= 0 {
		out.MaxReconnectInterval = 10 * time.Second
	}
	return out
}

// Client is a stateless RPC wrapper with a stateful connection underneath.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu            sync.Mutex // serializes all RPCs and guards the fields below
	conn          *websocket.Conn
	failures      int
	unhealthy     bool
	dynamicSource string // name of the input created by SwitchToNewSource
}

// New creates a client. No connection is made until the first call or an
// explicit ForceReconnect.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		logger: xlog.WithComponent("compositor"),
	}
}

// Healthy reports whether the client is accepting calls.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unhealthy
}

// ForceReconnect drops any existing connection, clears the unhealthy latch
// and dials again.
func (c *Client) ForceReconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.unhealthy = false
	c.failures = 0
	metrics.SetCompositorHealthy(true)
	return c.connectLocked(ctx)
}

// Close shuts the connection down for good.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
		c.conn = nil
	}
}

// connectLocked dials, performs the Hello/Identify handshake and leaves a
// ready connection behind. Caller holds c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("compositor: dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(4 << 20)

	if err := c.identify(dialCtx, conn); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "identify failed")
		return err
	}

	c.conn = conn
	c.logger.Info().Str(xlog.FieldURL, c.cfg.URL).Msg("compositor connected")
	return nil
}

// identify completes the opening handshake: read Hello (op 0), answer with
// Identify (op 1) carrying the auth response if challenged, read Identified
// (op 2).
func (c *Client) identify(ctx context.Context, conn *websocket.Conn) error {
	var hello envelope
	if err := readEnvelope(ctx, conn, &hello); err != nil {
		return fmt.Errorf("compositor: read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("compositor: expected hello, got op %d", hello.Op)
	}

	var helloData helloData
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return fmt.Errorf("compositor: decode hello: %w", err)
	}

	identify := identifyData{RPCVersion: 1}
	if helloData.Authentication != nil {
		identify.Authentication = authResponse(c.cfg.Password,
			helloData.Authentication.Salt, helloData.Authentication.Challenge)
	}
	if err := writeEnvelope(ctx, conn, opIdentify, identify); err != nil {
		return fmt.Errorf("compositor: send identify: %w", err)
	}

	var identified envelope
	if err := readEnvelope(ctx, conn, &identified); err != nil {
		return fmt.Errorf("compositor: read identified: %w", err)
	}
	if identified.Op != opIdentified {
		return fmt.Errorf("compositor: expected identified, got op %d", identified.Op)
	}
	return nil
}

// authResponse derives the challenge response:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	b64Secret := base64.StdEncoding.EncodeToString(secret[:])
	response := sha256.Sum256([]byte(b64Secret + challenge))
	return base64.StdEncoding.EncodeToString(response[:])
}

// call performs one RPC, reconnecting and retrying once on transport errors.
func (c *Client) call(ctx context.Context, requestType string, requestData, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unhealthy {
		metrics.IncCompositorRequest(requestType, "unhealthy")
		return ErrUnhealthy
	}

	err := c.callOnceLocked(ctx, requestType, requestData, out)
	if err == nil {
		c.failures = 0
		metrics.IncCompositorRequest(requestType, "ok")
		return nil
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		// Delivered but rejected; the connection is fine.
		metrics.IncCompositorRequest(requestType, "rejected")
		return err
	}

	c.logger.Warn().
		Err(err).
		Str("request", requestType).
		Msg("compositor call failed, reconnecting")
	c.closeLocked()

	if rcErr := c.reconnectLocked(ctx); rcErr != nil {
		metrics.IncCompositorRequest(requestType, "error")
		return fmt.Errorf("compositor: reconnect after failed %s: %w", requestType, rcErr)
	}

	if err := c.callOnceLocked(ctx, requestType, requestData, out); err != nil {
		metrics.IncCompositorRequest(requestType, "error")
		return err
	}
	c.failures = 0
	metrics.IncCompositorRequest(requestType, "ok")
	return nil
}

// reconnectLocked retries the dial with capped exponential backoff. One more
// consecutive failure past the limit flips the unhealthy latch.
func (c *Client) reconnectLocked(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = c.cfg.MaxReconnectInterval

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := c.connectLocked(ctx); err == nil {
			metrics.IncCompositorReconnect("ok")
			return nil
		} else {
			lastErr = err
		}
		metrics.IncCompositorReconnect("error")

		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.failures++
	if c.failures >= c.cfg.MaxReconnectFailures {
		c.unhealthy = true
		metrics.SetCompositorHealthy(false)
		c.logger.Error().
			Int("consecutive_failures", c.failures).
			Msg("compositor client marked unhealthy")
	}
	return lastErr
}

// callOnceLocked sends one request and waits for its matching response,
// skipping unsolicited event messages. Caller holds c.mu.
func (c *Client) callOnceLocked(ctx context.Context, requestType string, requestData, out any) error {
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	reqID := uuid.NewString()
	req := requestEnvelope{
		RequestType: requestType,
		RequestID:   reqID,
	}
	if requestData != nil {
		data, err := json.Marshal(requestData)
		if err != nil {
			return fmt.Errorf("compositor: encode %s: %w", requestType, err)
		}
		req.RequestData = data
	}
	if err := writeEnvelope(callCtx, c.conn, opRequest, req); err != nil {
		return fmt.Errorf("compositor: send %s: %w", requestType, err)
	}

	for {
		var env envelope
		if err := readEnvelope(callCtx, c.conn, &env); err != nil {
			return fmt.Errorf("compositor: read %s response: %w", requestType, err)
		}
		if env.Op != opRequestResponse {
			// Event or other traffic; not for us.
			continue
		}
		var resp responseEnvelope
		if err := json.Unmarshal(env.D, &resp); err != nil {
			return fmt.Errorf("compositor: decode %s response: %w", requestType, err)
		}
		if resp.RequestID != reqID {
			continue
		}
		if !resp.RequestStatus.Result {
			return &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("compositor: decode %s data: %w", requestType, err)
			}
		}
		return nil
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn, env *envelope) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, env)
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, op int, d any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	env := envelope{Op: op, D: data}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
