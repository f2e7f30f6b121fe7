// SPDX-License-Identifier: MIT

package compositor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine is an in-process scene engine speaking the v5 envelope protocol.
type fakeEngine struct {
	t       *testing.T
	srv     *httptest.Server
	handler func(requestType string, data json.RawMessage) (any, *RequestError)

	mu       sync.Mutex
	requests []string
	// dropAfterIdentify closes the connection right after the handshake,
	// once, to exercise the reconnect path.
	dropAfterIdentify bool
}

func newFakeEngine(t *testing.T, handler func(string, json.RawMessage) (any, *RequestError)) *fakeEngine {
	fe := &fakeEngine{t: t, handler: handler}
	fe.srv = httptest.NewServer(http.HandlerFunc(fe.serve))
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEngine) url() string {
	return "ws" + strings.TrimPrefix(fe.srv.URL, "http")
}

func (fe *fakeEngine) seen() []string {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return append([]string(nil), fe.requests...)
}

func (fe *fakeEngine) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	ctx := r.Context()

	send := func(op int, d any) {
		data, _ := json.Marshal(d)
		payload, _ := json.Marshal(envelope{Op: op, D: data})
		_ = conn.Write(ctx, websocket.MessageText, payload)
	}

	send(opHello, helloData{RPCVersion: 1})

	// Identify
	if _, _, err := conn.Read(ctx); err != nil {
		return
	}
	send(opIdentified, map[string]int{"negotiatedRpcVersion": 1})

	fe.mu.Lock()
	drop := fe.dropAfterIdentify
	fe.dropAfterIdentify = false
	fe.mu.Unlock()
	if drop {
		_ = conn.Close(websocket.StatusAbnormalClosure, "dropped")
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return
		}
		var req requestEnvelope
		if err := json.Unmarshal(env.D, &req); err != nil {
			return
		}

		fe.mu.Lock()
		fe.requests = append(fe.requests, req.RequestType)
		fe.mu.Unlock()

		var resp responseEnvelope
		resp.RequestType = req.RequestType
		resp.RequestID = req.RequestID
		result, reqErr := fe.handler(req.RequestType, req.RequestData)
		if reqErr != nil {
			resp.RequestStatus.Result = false
			resp.RequestStatus.Code = reqErr.Code
			resp.RequestStatus.Comment = reqErr.Comment
		} else {
			resp.RequestStatus.Result = true
			resp.RequestStatus.Code = 100
			if result != nil {
				resp.ResponseData, _ = json.Marshal(result)
			}
		}
		send(opRequestResponse, resp)
	}
}

func sceneHandler(visible bool) func(string, json.RawMessage) (any, *RequestError) {
	return func(requestType string, _ json.RawMessage) (any, *RequestError) {
		switch requestType {
		case "GetSceneItemId":
			return map[string]int{"sceneItemId": 3}, nil
		case "GetSceneItemEnabled":
			return map[string]bool{"sceneItemEnabled": visible}, nil
		case "SetSceneItemEnabled", "TriggerMediaInputAction":
			return nil, nil
		case "GetMediaInputStatus":
			return map[string]any{"mediaState": MediaStatePlaying, "mediaDuration": 0.0, "mediaCursor": 12345.0}, nil
		case "GetStats":
			return map[string]any{"activeFps": 60.0, "outputSkippedFrames": 4, "outputTotalFrames": 1000}, nil
		case "GetStreamStatus":
			return map[string]any{"outputActive": true}, nil
		case "GetInputList":
			return map[string]any{"inputs": []map[string]string{{"inputName": "live", "inputKind": "ffmpeg_source"}}}, nil
		default:
			return nil, &RequestError{RequestType: requestType, Code: 204, Comment: "unknown request"}
		}
	}
}

func newTestClient(url string) *Client {
	return New(Config{
		URL:                  url,
		CallTimeout:          2 * time.Second,
		SettlePause:          10 * time.Millisecond,
		MaxReconnectInterval: 50 * time.Millisecond,
		MaxReconnectFailures: 2,
	})
}

func TestToggleSourceHidesAndUnhides(t *testing.T) {
	fe := newFakeEngine(t, sceneHandler(true))
	c := newTestClient(fe.url())
	defer c.Close()

	require.NoError(t, c.ToggleSource(context.Background(), "Main", "Live", false))
	assert.Equal(t, []string{"GetSceneItemId", "SetSceneItemEnabled", "SetSceneItemEnabled"}, fe.seen())
}

func TestToggleSourceOnlyOff(t *testing.T) {
	fe := newFakeEngine(t, sceneHandler(true))
	c := newTestClient(fe.url())
	defer c.Close()

	require.NoError(t, c.ToggleSource(context.Background(), "Main", "Live", true))
	assert.Equal(t, []string{"GetSceneItemId", "SetSceneItemEnabled"}, fe.seen())
}

func TestIsVisibleFalseOnError(t *testing.T) {
	fe := newFakeEngine(t, func(requestType string, _ json.RawMessage) (any, *RequestError) {
		return nil, &RequestError{RequestType: requestType, Code: 600, Comment: "no such source"}
	})
	c := newTestClient(fe.url())
	defer c.Close()

	assert.False(t, c.IsVisible(context.Background(), "Main", "Missing"))
}

func TestMediaStatusReadsCursorField(t *testing.T) {
	fe := newFakeEngine(t, sceneHandler(true))
	c := newTestClient(fe.url())
	defer c.Close()

	status, err := c.MediaStatus(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, MediaStatePlaying, status.State)
	assert.Equal(t, 12345.0, status.Time)
}

func TestStatsAndOutputStatus(t *testing.T) {
	fe := newFakeEngine(t, sceneHandler(true))
	c := newTestClient(fe.url())
	defer c.Close()

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60.0, stats.ActiveFPS)
	assert.Equal(t, int64(4), stats.OutputSkippedFrames)

	out, err := c.OutputStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Active)

	inputs, err := c.ListInputs(context.Background())
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "live", inputs[0].Name)
}

func TestReconnectRetriesOnce(t *testing.T) {
	fe := newFakeEngine(t, sceneHandler(true))
	c := newTestClient(fe.url())
	defer c.Close()

	// Prime the connection, then have the server drop the next session
	// mid-flight by closing the current one.
	_, err := c.Stats(context.Background())
	require.NoError(t, err)

	c.mu.Lock()
	_ = c.conn.Close(websocket.StatusAbnormalClosure, "simulated drop")
	c.mu.Unlock()

	// The call fails on the dead socket, reconnects, and succeeds on retry.
	_, err = c.Stats(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Healthy())
}

func TestUnhealthyAfterConsecutiveReconnectFailures(t *testing.T) {
	fe := newFakeEngine(t, sceneHandler(true))
	c := newTestClient(fe.url())

	_, err := c.Stats(context.Background())
	require.NoError(t, err)

	// Kill the server so every reconnect fails.
	fe.srv.Close()
	c.mu.Lock()
	_ = c.conn.Close(websocket.StatusAbnormalClosure, "server gone")
	c.mu.Unlock()

	for i := 0; i < 2; i++ {
		_, err = c.Stats(context.Background())
		require.Error(t, err)
	}
	assert.False(t, c.Healthy())

	// Fail fast while unhealthy.
	_, err = c.Stats(context.Background())
	assert.ErrorIs(t, err, ErrUnhealthy)
}

func TestForceReconnectRecovers(t *testing.T) {
	fe := newFakeEngine(t, sceneHandler(true))
	c := newTestClient(fe.url())
	defer c.Close()

	c.mu.Lock()
	c.unhealthy = true
	c.failures = 99
	c.mu.Unlock()

	require.NoError(t, c.ForceReconnect(context.Background()))
	assert.True(t, c.Healthy())

	_, err := c.Stats(context.Background())
	assert.NoError(t, err)
}
