// SPDX-License-Identifier: MIT

package daemon

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	xlog "github.com/onair-live/onair/internal/log"
	"github.com/onair-live/onair/internal/stream"
	"github.com/onair-live/onair/internal/worker"
)

// App runs the long-lived subsystems next to the servers: the sequencing
// worker and the stream manager's tick loop.
type App struct {
	manager   *Manager
	worker    *worker.Worker
	streamMgr *stream.Manager
	logger    zerolog.Logger
}

func NewApp(manager *Manager, w *worker.Worker, streamMgr *stream.Manager) *App {
	return &App{
		manager:   manager,
		worker:    w,
		streamMgr: streamMgr,
		logger:    xlog.WithComponent("daemon"),
	}
}

// Run starts everything and blocks until ctx is cancelled or a subsystem
// fails fatally.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(ctx) })
	}
	if a.streamMgr != nil {
		g.Go(func() error { return a.streamMgr.Run(ctx) })
	}
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.WithoutCancel(ctx))
		}
		return err
	})

	return g.Wait()
}
