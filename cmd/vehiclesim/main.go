// Command vehiclesim runs vehicle replication scenarios and the websocket
// relay the parties of a networked session connect through.
//
//	vehiclesim run [-config dir] [-party id] [-realtime] scenario.toml
//	vehiclesim hub [-config dir] [-listen addr]
//	vehiclesim version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/modsync/vehicle/internal/authority"
	"github.com/modsync/vehicle/internal/config"
	"github.com/modsync/vehicle/internal/logging"
	"github.com/modsync/vehicle/internal/model"
	"github.com/modsync/vehicle/internal/monitor"
	"github.com/modsync/vehicle/internal/storage"
	"github.com/modsync/vehicle/pkg/core"
)

// BuildDate and Version can be set at build time via ldflags.
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

const serviceName = "vehiclesim"

// simTick is the last completed tick, attached to every log record.
var simTick atomic.Uint64

var errUsage = errors.New("usage: vehiclesim run|hub|version")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch strings.ToLower(args[0]) {
	case "run":
		return runCommand(ctx, args[1:], out)
	case "hub":
		return hubCommand(ctx, args[1:])
	case "version":
		fmt.Fprintf(out, "%s %s (%s)\n", serviceName, Version, BuildDate)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func runCommand(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	local := fs.String("party", "", "run only this party and connect through the configured transport")
	realtime := fs.Bool("realtime", false, "pace ticks at sim.tickRate")
	statusDir := fs.String("status-dir", "", "write per-party status files here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("run: exactly one scenario file is required")
	}

	sc, err := loadScenario(fs.Arg(0))
	if err != nil {
		return err
	}

	sess, err := startSession(ctx, *configDir, serviceName)
	if err != nil {
		return err
	}
	log := sess.Logger
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing session: %v\n", err)
		}
	}()

	backend, err := createStorageBackend(config.GetStorageConfig(), log, sess.Zerolog)
	if err != nil {
		return err
	}
	recorders := sess.Recorders()
	if backend != nil {
		if err := backend.Init(); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer func() {
			if err := backend.Close(); err != nil {
				log.Error("Failed to close storage backend", "error", err)
			}
			if exp, ok := backend.(storage.Exportable); ok {
				log.Info("Snapshots exported", "path", exp.ExportPath())
			}
		}()
		if rec, ok := backend.(storage.PerformanceRecorder); ok {
			recorders = append(recorders, rec)
		}
	}

	transportCfg := config.GetTransportConfig()
	localID := core.PartyID(*local)
	if localID == "" && transportCfg.Type == "websocket" {
		localID = core.PartyID(config.GetPartyConfig().ID)
	}

	h, err := newHarness(sc, harnessDeps{
		Catalog:        buildCatalog(config.GetControlsConfig(), log),
		Storage:        backend,
		Sim:            config.GetSimConfig(),
		Authority:      config.GetAuthorityConfig(),
		Override:       authority.NewOverride(),
		Logger:         log,
		DispatchLogger: logging.NewDispatcherLogger(sess.Zerolog.With().Str("component", "dispatcher").Logger()),
		Recorders:      recorders,
		StatusDir:      *statusDir,
		Local:          localID,
		Realtime:       *realtime || localID != "",
		OnTick:         simTick.Store,
	})
	if err != nil {
		return err
	}

	if localID == "" {
		h.connectLoopback()
	} else if err := h.connectWebSocket(ctx, transportCfg.WebSocket); err != nil {
		return err
	}

	log.Info("Scenario started", "scenario", sc.Name, "ticks", sc.Ticks, "parties", len(sc.Parties), "local", string(localID))
	runErr := h.Run(ctx)
	if err := h.Close(ctx); err != nil {
		log.Warn("Harness did not close cleanly", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	report := h.Report()
	log.Info("Scenario finished", "scenario", sc.Name, "ticks", report.Ticks, "failures", len(report.Failures))
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func hubCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("hub", flag.ContinueOnError)
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	listen := fs.String("listen", "", "listen address (default transport.websocket.listen)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := startSession(ctx, *configDir, serviceName+".hub")
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sess.Close(closeCtx)
	}()

	ws := config.GetTransportConfig().WebSocket
	addr := *listen
	if addr == "" {
		addr = ws.Listen
	}

	// The hub reports its own process status while relaying.
	mon := monitor.NewService(monitor.Dependencies{
		Source:    func() model.PerformanceSample { return model.PerformanceSample{Party: "hub"} },
		Recorders: sess.Recorders(),
		Interval:  10 * time.Second,
		Logger:    sess.Logger,
	})
	if err := mon.Start(); err != nil {
		return err
	}
	defer mon.Stop()

	return serveHub(ctx, addr, ws.Secret, sess.Logger)
}
