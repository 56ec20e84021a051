// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// ovcomp-sim replays a frame scenario through the composer against the
// simulated display engine and writes a JSON report.
//
// Usage:
//
//	ovcomp-sim -scenario replay.yaml [-config ovcomp.yaml] [-fps 60] [-report out.json]
//
// Exit codes:
//   - 0: every step met its expectations
//   - 1: a step failed or the replay could not run
//   - 2: usage error
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ManuGH/ovcomp/internal/config"
	"github.com/ManuGH/ovcomp/internal/diag"
	xglog "github.com/ManuGH/ovcomp/internal/log"
	"github.com/ManuGH/ovcomp/internal/scenario"
	"github.com/ManuGH/ovcomp/internal/validate"
	"github.com/ManuGH/ovcomp/internal/version"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type options struct {
	configPath   string
	scenarioPath string
	reportPath   string
	fps          float64
	hold         bool
	dump         bool
	showVersion  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("ovcomp-sim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&o.scenarioPath, "scenario", "", "path to YAML scenario file")
	fs.StringVar(&o.reportPath, "report", "", "write the JSON report to this path")
	fs.Float64Var(&o.fps, "fps", 60, "frames per second; 0 replays as fast as possible")
	fs.BoolVar(&o.hold, "hold", false, "keep the diagnostics server up after the replay until interrupted")
	fs.BoolVar(&o.dump, "dump", false, "print the final allocation state")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.showVersion {
		return o, nil
	}
	if o.scenarioPath == "" {
		return o, errors.New("-scenario is required")
	}
	if o.fps < 0 {
		return o, fmt.Errorf("-fps must not be negative, got %v", o.fps)
	}
	if o.reportPath != "" {
		// Missing report directories are created up front.
		v := validate.New()
		v.Directory("-report", filepath.Dir(o.reportPath), false)
		if err := v.Err(); err != nil {
			return o, err
		}
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 2
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return 0
	}

	cfg, err := config.NewLoader(o.configPath, version.Version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	xglog.Reconfigure(xglog.Config{Level: cfg.Log.Level, Output: stderr, Service: "ovcomp-sim", Version: version.Version})
	logger := xglog.WithComponent("ovcomp-sim")

	sc, err := scenario.Load(o.scenarioPath)
	if err != nil {
		fmt.Fprintf(stderr, "Scenario error in %s:\n  %v\n", o.scenarioPath, err)
		return 1
	}

	runID := uuid.NewString()
	ctx = xglog.ContextWithRunID(ctx, runID)
	logger = xglog.WithContext(ctx, logger)

	rig, err := scenario.NewRig(sc, cfg.ComposerOptions(), xglog.WithContext(ctx, xglog.Base()))
	if err != nil {
		fmt.Fprintf(stderr, "Scenario error: %v\n", err)
		return 1
	}
	defer rig.Close()

	limit := rate.Inf
	if o.fps > 0 {
		limit = rate.Limit(o.fps)
	}
	pacer := rate.NewLimiter(limit, 1)

	var srv *diag.Server
	if cfg.Diag.Addr != "" {
		srv, err = diag.Listen(cfg.Diag.Addr, diag.NewRouter(rig.Composer, diag.Options{}, logger), logger)
		if err != nil {
			fmt.Fprintf(stderr, "Diagnostics error: %v\n", err)
			return 1
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var rep scenario.Report
	g.Go(func() error {
		var err error
		rep, err = rig.Run(gctx, sc, pacer)
		if err != nil {
			return fmt.Errorf("replay %s: %w", sc.Name, err)
		}
		if !o.hold || srv == nil {
			cancel()
		}
		return nil
	})
	if srv != nil {
		g.Go(func() error { return srv.Serve(gctx) })
	}
	runErr := g.Wait()

	logger.Info().
		Str("event", "sim.done").
		Int("frames", rep.Frames).
		Int("failed", rep.Summary.Failed).
		Str("verdict", rep.Summary.Verdict).
		Msg("replay finished")

	if o.reportPath != "" {
		if err := writeReport(ctx, o.reportPath, rep); err != nil {
			fmt.Fprintf(stderr, "Report error: %v\n", err)
			return 1
		}
	}
	if o.dump {
		fmt.Fprint(stdout, rig.Composer.DumpState())
	}

	fmt.Fprintf(stdout, "%s: %s (%d frames, %d steps passed, %d failed)\n",
		sc.Name, rep.Summary.Verdict, rep.Frames, rep.Summary.Passed, rep.Summary.Failed)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 1
	}
	if rep.Summary.Verdict != scenario.VerdictPass {
		return 1
	}
	return 0
}
