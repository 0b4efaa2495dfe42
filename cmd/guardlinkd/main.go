// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pollub/guardlink/internal/api"
	"github.com/pollub/guardlink/internal/config"
	"github.com/pollub/guardlink/internal/control"
	"github.com/pollub/guardlink/internal/health"
	"github.com/pollub/guardlink/internal/locator"
	gllog "github.com/pollub/guardlink/internal/log"
	"github.com/pollub/guardlink/internal/probe"
	"github.com/pollub/guardlink/internal/report"
	"github.com/pollub/guardlink/internal/session"
	"github.com/pollub/guardlink/internal/store"
	"github.com/pollub/guardlink/internal/token"
	"github.com/pollub/guardlink/internal/types"
	"github.com/pollub/guardlink/internal/wear"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// The logger configures once; read the level directly so a config load
	// failure below is still reported at the requested level.
	gllog.Configure(gllog.Config{
		Level:   config.ParseString("GUARDLINK_LOG_LEVEL", "info"),
		Service: "guardlink",
		Version: version,
	})
	logger := gllog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Msg("failed to load configuration")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.Listen).
		Msg("starting guardlink")
	logger.Info().Msgf("→ Backend: %s", cfg.APIURL)
	logger.Info().Msgf("→ Socket: %s", cfg.SocketURL)
	logger.Info().Msgf("→ Sample interval: %s (credential check every %d ticks)",
		cfg.SampleInterval, cfg.TokenCheckEvery())
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)

	st, err := store.Open(ctx, cfg.DataDir)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Msg("failed to open credential store")
	}
	defer func() { _ = st.Close() }()

	// The unauthenticated client performs token refreshes; the gatekeeper
	// then authorizes every other backend call.
	authAPI := api.New(cfg.APIURL, nil)
	gate := token.NewManager(st, authAPI, cfg.TokenThreshold)
	apiClient := api.New(cfg.APIURL, gate)

	sess := session.NewManager(gate, apiClient, cfg.ReconnectDelay)
	tracker := report.NewTracker()

	var provider locator.Provider
	if cfg.PositionURL != "" {
		provider = locator.NewHTTPProvider(cfg.PositionURL)
	} else {
		provider = &locator.StaticProvider{Lat: cfg.Latitude, Lon: cfg.Longitude}
	}
	loop := locator.New(sess, gate, provider, st,
		cfg.SocketURL, cfg.SampleInterval, cfg.TokenCheckEvery())

	hub := wear.NewHub()
	bridge := wear.New(hub, sess, gate, tracker, loop, st)
	hub.OnMessage(bridge.HandleMessage)

	// Lifecycle wiring. The bridge re-registers the start/close slots while
	// it is driving an alarm; these are the resting defaults.
	sess.OnStart(tracker.Begin)
	sess.OnClose(tracker.Reset)
	sess.OnStatus(func(state types.ReportState) {
		tracker.Apply(state)
	})
	sess.OnReportFinished(func() {
		tracker.Reset()
		loop.Stop()
	})
	tracker.Observe(func(state types.ReportState) {
		bridge.PushSOSStatus(context.Background(), state)
	})

	loop.OnUnauthorized(func() {
		logger.Warn().Str("event", "daemon.forced_logout").Msg("refresh token expired, clearing credentials")
		clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Clear(clearCtx); err != nil {
			logger.Error().Err(err).Msg("failed to clear credentials")
		}
	})

	poller := probe.New(apiClient, bridge, sess, cfg.ProbeIntervalUp, cfg.ProbeIntervalDown)
	poller.OnBackend(func(up bool) {
		logger.Debug().Bool("reachable", up).Str("event", "probe.backend").Msg("backend reachability")
	})
	poller.OnCompanion(func(present bool) {
		logger.Debug().Bool("present", present).Str("event", "probe.companion").Msg("companion presence")
	})

	hm := health.NewManager(version)
	hm.RegisterChecker(&health.StoreChecker{Store: st})
	hm.RegisterChecker(health.NewSessionChecker(sess))

	ctl := control.New(apiClient, st, sess, loop, tracker, hm.ServeHealth, hm.ServeReady, hub)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           ctl.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("event", "http.listen").Str("addr", cfg.Listen).Msg("local surface listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		poller.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()
		loop.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon failed")
	}
	logger.Info().Msg("server exiting")
}
