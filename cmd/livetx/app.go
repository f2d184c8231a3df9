package main

import (
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rndi/srt/pkg/config"
	"github.com/rndi/srt/pkg/medium"
	"github.com/rndi/srt/pkg/observability"
	"github.com/rndi/srt/pkg/protosock"
	"github.com/rndi/srt/pkg/relay"
)

// Exit codes: 0 clean end of stream or interrupt, 1 usage or configuration
// error, 255 transmission error.
const (
	exitOK     = 0
	exitUsage  = 1
	exitTxFail = 255
)

// run is the main entry point after CLI parsing.
func run(args []string) int {
	// Config first pass just to find --config; defaults carry the rest.
	cfg := config.Default()
	opts, err := ParseFlags(args, cfg)
	if err != nil {
		_, _ = os.Stderr.WriteString("livetx: " + err.Error() + "\n")
		return exitUsage
	}
	if opts.ShowHelp {
		return exitOK
	}
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
			return exitUsage
		}
		// Re-parse so explicit flags win over the file.
		cfg = loaded
		if opts, err = ParseFlags(args, cfg); err != nil {
			_, _ = os.Stderr.WriteString("livetx: " + err.Error() + "\n")
			return exitUsage
		}
	}

	cfg.Log.Level = observability.LevelFor(cfg.Verbose, cfg.Quiet, cfg.Log.Level)
	if opts.LogFile != "" {
		cfg.Log.Outputs = []string{opts.LogFile}
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return exitUsage
	}
	defer func() { _ = logger.Sync() }()

	statsFormat, err := relay.ParseStatsFormat(cfg.StatsFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("livetx: " + err.Error() + "\n")
		return exitUsage
	}

	loop, err := relay.New(zap.L(), relay.Options{
		ChunkSize:     cfg.ChunkSize,
		BWReport:      cfg.BWReport,
		MaxRate:       cfg.MaxRate,
		StatsReport:   cfg.StatsReport,
		StatsFormat:   statsFormat,
		StatsOut:      cfg.StatsOut,
		Verbose:       cfg.Verbose,
		AutoReconnect: cfg.AutoReconnect,
	})
	if err != nil {
		_, _ = os.Stderr.WriteString("livetx: " + err.Error() + "\n")
		return exitUsage
	}

	var interrupted, timedOut atomic.Bool
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		interrupted.Store(true)
	}()

	disarm := func() {}
	if cfg.TimeoutSec > 0 {
		timer := time.AfterFunc(time.Duration(cfg.TimeoutSec)*time.Second, func() {
			timedOut.Store(true)
		})
		disarm = func() { timer.Stop() }
	}
	loop.SetSignals(&interrupted, &timedOut, disarm)

	if err := loop.Run(opts.Source, opts.Target); err != nil {
		return classify(err)
	}
	return exitOK
}

// classify splits failures between operator mistakes and transmission
// faults so scripts can tell them apart.
func classify(err error) int {
	var cfgErr *medium.ConfigError
	switch {
	case errors.As(err, &cfgErr),
		errors.Is(err, medium.ErrUnsupported):
		_, _ = os.Stderr.WriteString("livetx: " + err.Error() + "\n")
		return exitUsage
	}
	var sockErr *protosock.SockError
	if errors.As(err, &sockErr) || errors.Is(err, relay.ErrTimedOut) {
		zap.L().Error("transmission failed", zap.Error(err))
		return exitTxFail
	}
	zap.L().Error("transfer failed", zap.Error(err))
	return exitTxFail
}
