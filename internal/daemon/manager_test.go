// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestManagerStartServesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	defer http.DefaultClient.CloseIdleConnections()

	addr := freeAddr(t)
	m := NewManager(ServerConfig{ListenAddr: addr, ShutdownTimeout: 2 * time.Second}, okHandler(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/", addr))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestManagerMetricsServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	defer http.DefaultClient.CloseIdleConnections()

	apiAddr := freeAddr(t)
	metricsAddr := freeAddr(t)
	m := NewManager(ServerConfig{
		ListenAddr:      apiAddr,
		MetricsAddr:     metricsAddr,
		ShutdownTimeout: 2 * time.Second,
	}, okHandler(), okHandler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", metricsAddr))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 3*time.Second, 25*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestShutdownHooksRunLIFO(t *testing.T) {
	addr := freeAddr(t)
	m := NewManager(ServerConfig{ListenAddr: addr, ShutdownTimeout: 2 * time.Second}, okHandler(), nil)

	var order []string
	m.RegisterShutdownHook("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	m.RegisterShutdownHook("second", func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestShutdownHookErrorsAreJoined(t *testing.T) {
	addr := freeAddr(t)
	m := NewManager(ServerConfig{ListenAddr: addr, ShutdownTimeout: 2 * time.Second}, okHandler(), nil)

	hookErr := errors.New("close failed")
	m.RegisterShutdownHook("broken", func(context.Context) error { return hookErr })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, hookErr)
}

func TestShutdownBeforeStart(t *testing.T) {
	m := NewManager(ServerConfig{ListenAddr: "127.0.0.1:0"}, okHandler(), nil)
	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestDoubleStartRejected(t *testing.T) {
	addr := freeAddr(t)
	m := NewManager(ServerConfig{ListenAddr: addr, ShutdownTimeout: 2 * time.Second}, okHandler(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)

	assert.Error(t, m.Start(ctx))
	cancel()
	<-done
}
