// Package devserver syncs the compiled theme to the store while the theme is
// being developed, and serves the compiled assets to the browser.
package devserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/slate-tools/pkg/compiler"
	"github.com/sidkik/slate-tools/pkg/errors"
	"github.com/sidkik/slate-tools/pkg/hooks"
	"github.com/sidkik/slate-tools/pkg/metrics"
	"github.com/sidkik/slate-tools/pkg/sync"
	syncClient "github.com/sidkik/slate-tools/pkg/sync/client"
)

// fs is overridden by afero.NewMemMapFs() in the tests.
var fs = afero.NewOsFs()

const shutdownTimeout = 5 * time.Second

// Config configures a DevServer.
type Config struct {
	Port        int
	DistDir     string
	Ignore      []string
	Watcher     compiler.Options
	Coordinator Options

	// OnCompile is called with each build before it's synced.
	OnCompile func(sync.BuildOutput)
}

// DevServer ties together the compiler watcher, the sync coordinator, and
// the asset server.
type DevServer struct {
	cfg Config

	watcher     *compiler.Watcher
	coordinator *Coordinator
	hooks       *hooks.Hub
	reload      *ReloadHub
	server      *http.Server

	log *logrus.Logger
}

// New creates a DevServer that syncs to `transport`.
func New(cfg Config, transport syncClient.Client, logger *logrus.Logger) *DevServer {
	registry := prometheus.NewRegistry()
	hub := hooks.NewHub(logger)
	reload := NewReloadHub(logger)

	cfg.Watcher.DistDir = cfg.DistDir
	detector := sync.NewChangeDetector(fs, cfg.DistDir, cfg.Ignore)
	coordinator := NewCoordinator(detector, hub, transport, cfg.Coordinator,
		logger, metrics.New(registry))

	hub.Tap(hooks.PostSync, "live-reload", func(_ context.Context, event *hooks.Event) error {
		reload.Publish(Notification{Signal: SyncFinishedSignal, HadChanges: event.HadChanges})
		return nil
	})

	return &DevServer{
		cfg:         cfg,
		watcher:     compiler.NewWatcher(cfg.Watcher, logger),
		coordinator: coordinator,
		hooks:       hub,
		reload:      reload,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: NewApp(fs, cfg.DistDir, reload, registry),
		},
		log: logger,
	}
}

// Hooks returns the hub that sync lifecycle listeners are registered with.
func (s *DevServer) Hooks() *hooks.Hub {
	return s.hooks
}

// Coordinator returns the sync coordinator.
func (s *DevServer) Coordinator() *Coordinator {
	return s.coordinator
}

// Run serves assets and syncs builds until `ctx` is cancelled or syncing is
// aborted. errors.ErrAborted is returned in the latter case.
func (s *DevServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.NewFriendlyError("Failed to start the asset server on "+
			"port %d. Is another instance of `slate start` running?\n\n"+
			"The error was: %s", s.cfg.Port, err)
	}
	return s.serve(ctx, listener)
}

func (s *DevServer) serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.server.Serve(listener)
	}()
	s.log.WithField("address", listener.Addr().String()).Debug("Serving assets")

	watcherErr := make(chan error, 1)
	go func() {
		watcherErr <- s.watcher.Run(ctx)
	}()
	go s.forwardBuilds(ctx)

	coordinatorErr := make(chan error, 1)
	go func() {
		coordinatorErr <- s.coordinator.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-coordinatorErr:
		coordinatorErr = nil
	case err := <-watcherErr:
		watcherErr = nil
		if ctx.Err() == nil {
			runErr = errors.WithContext(err, "watch dist")
		}
	case err := <-serverErr:
		runErr = errors.WithContext(err, "serve")
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("Failed to shut down asset server")
	}
	s.reload.Close()

	if coordinatorErr != nil {
		<-coordinatorErr
	}
	if watcherErr != nil {
		<-watcherErr
	}
	s.hooks.Wait()

	if runErr == context.Canceled {
		return nil
	}
	return runErr
}

func (s *DevServer) forwardBuilds(ctx context.Context) {
	for {
		select {
		case build := <-s.watcher.Builds():
			if s.cfg.OnCompile != nil {
				s.cfg.OnCompile(build)
			}
			s.coordinator.OnBuildComplete(build)
		case <-ctx.Done():
			return
		}
	}
}
