// Package supervisor wires every long-lived component together and
// owns the process lifetime: fixture loading, object-store clients,
// the current-day poller, the historical cache, the WebSocket hub, and
// the HTTP server, plus the goroutines that keep them running.
// Grounded on the teacher's cmd/server/main.go wiring sequence (build
// dependencies top-down, launch background loops, then block on
// ListenAndServe) and its http.Server{}/Shutdown(ctx) graceful-stop
// pattern, shared with cmd/hlsd/main.go.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lsst-live/rubintv/internal/config"
	"github.com/lsst-live/rubintv/internal/fixtures"
	"github.com/lsst-live/rubintv/internal/historical"
	"github.com/lsst-live/rubintv/internal/httpapi"
	"github.com/lsst-live/rubintv/internal/hub"
	"github.com/lsst-live/rubintv/internal/objectstore"
	"github.com/lsst-live/rubintv/internal/poller"
	"github.com/lsst-live/rubintv/internal/query"
)

const presignCacheSize = 4096

// shutdownTimeout bounds how long Run waits for in-flight HTTP requests
// to drain once the context is cancelled. Background loops are stopped
// through ctx cancellation and are not waited for.
const shutdownTimeout = 5 * time.Second

// Supervisor owns every component's lifetime for one process.
type Supervisor struct {
	cfg        config.Config
	log        zerolog.Logger
	watcher    *fixtures.Watcher
	stores     *objectstore.Registry
	hub        *hub.Hub
	poller     *poller.Poller
	historical *historical.Cache
	httpServer *http.Server
}

// New loads fixtures and builds every component, but starts nothing.
// Call Run to start the background loops and serve HTTP.
func New(cfg config.Config, log zerolog.Logger) (*Supervisor, error) {
	watcher, err := fixtures.NewWatcher(cfg.FixturesPath, log)
	if err != nil {
		return nil, fmt.Errorf("supervisor: load fixtures: %w", err)
	}
	reg := watcher.Registry()

	stores, err := objectstore.BuildRegistry(reg, cfg.S3EndpointURL, presignCacheSize, cfg.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("supervisor: build object-store registry: %w", err)
	}

	hist := historical.New(reg, stores, log)

	s := &Supervisor{cfg: cfg, log: log, watcher: watcher, stores: stores, historical: hist}

	h := hub.New(reg, s.snapshotFor, log)
	s.hub = h

	s.poller = poller.New(reg, stores, h, poller.Config{
		Interval:       cfg.PollInterval,
		MaxInflight:    cfg.MaxInflight,
		StorageTimeout: cfg.StorageTimeout,
	}, log)

	q := query.New(reg, s.poller, hist, stores, cfg.PresignTTL)
	api := httpapi.New(reg, q, stores, h, hist, log)

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Router(cfg.PathPrefix),
	}

	return s, nil
}

// snapshotFor is the hub's SnapshotFunc: the cached state replayed to
// a client immediately on subscribe, before it is folded into future
// broadcasts.
func (s *Supervisor) snapshotFor(topic hub.Topic) any {
	switch topic.Kind {
	case hub.KindCamera, hub.KindNightReport:
		loc, cam, _ := splitTarget(topic.Target)
		if snap, ok := s.poller.Snapshot(loc, cam); ok {
			return snap
		}
		return nil
	case hub.KindChannel:
		loc, cam, channel := splitTarget(topic.Target)
		if ev, ok := s.poller.CurrentChannelEvent(loc, cam, channel); ok {
			return ev
		}
		return nil
	case hub.KindHistoricalStatus:
		return map[string]bool{"busy": s.historical.IsBusy()}
	default:
		return nil
	}
}

func splitTarget(target string) (loc, cam, channel string) {
	parts := strings.SplitN(target, "/", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return target, "", ""
	}
}

// Run starts every background loop and serves HTTP until ctx is
// cancelled, then drains in-flight HTTP requests within
// shutdownTimeout. Mirrors
// the teacher's go ListenAndServe() / block-on-signal / Shutdown(ctx)
// sequence, generalised to also stop the poller, historical cache, and
// fixture watcher loops sharing ctx's cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hubStop := make(chan struct{})
	go s.hub.Run(hubStop)
	go s.poller.Run(ctx)
	go s.historical.Run(ctx)
	go s.watcher.Start(ctx)

	s.historical.Build(ctx)

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Str("prefix", s.cfg.PathPrefix).Msg("supervisor: listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		cancel()
		close(hubStop)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	close(hubStop)
	if err != nil {
		return fmt.Errorf("supervisor: graceful shutdown: %w", err)
	}
	return nil
}
