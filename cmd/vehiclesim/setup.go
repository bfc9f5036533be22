package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modsync/vehicle/internal/config"
	"github.com/modsync/vehicle/internal/influx"
	"github.com/modsync/vehicle/internal/logging"
	"github.com/modsync/vehicle/internal/monitor"
	intOtel "github.com/modsync/vehicle/internal/otel"
	"github.com/rs/zerolog"
)

// session holds the process-wide logging and telemetry sinks.
type session struct {
	Start   time.Time
	Slog    *logging.SlogManager
	Logger  *slog.Logger
	Zerolog zerolog.Logger
	OTel    *intOtel.Provider
	Influx  *influx.Manager // nil when disabled

	files []*os.File
}

// startSession loads the config from configDir and wires logging. A
// missing config file is not fatal: defaults apply.
func startSession(ctx context.Context, configDir, name string) (*session, error) {
	s := &session{Start: time.Now(), Slog: logging.NewSlogManager()}

	cfgErr := config.Load(configDir)
	logsDir := config.GetString("logsDir")
	level := config.GetString("logLevel")

	var logOut io.Writer = os.Stdout
	logFile, logErr := logging.OpenLogFile(logsDir, name, s.Start)
	if logErr == nil {
		s.files = append(s.files, logFile)
		logOut = logFile
	}

	otelCfg := config.GetOTelConfig()
	var otelOut io.Writer
	if otelCfg.Enabled {
		f, err := logging.OpenLogFile(logsDir, name+".otel", s.Start)
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, f)
		otelOut = f
	}
	provider, err := intOtel.New(intOtel.FromConfig(otelCfg, otelOut))
	if err != nil {
		s.closeFiles()
		return nil, err
	}
	s.OTel = provider

	var gelfOut io.Writer
	var gelfErr error
	if gl := config.GetGraylogConfig(); gl.Enabled {
		w, err := logging.DialGELF(gl.Address)
		if err == nil {
			gelfOut = w
		}
		gelfErr = err
	}

	opts := logging.Options{
		Level:    level,
		Provider: provider.LoggerProvider(),
		GELF:     gelfOut,
		Context: func() []slog.Attr {
			return []slog.Attr{slog.Uint64("simTick", simTick.Load())}
		},
	}
	if logFile != nil {
		opts.File = logFile
	}
	s.Slog.Setup(opts)
	s.Logger = s.Slog.Logger()

	s.Zerolog = zerolog.New(logOut).Level(zerologLevel(level)).With().
		Timestamp().Str("service", name).Logger()

	if cfgErr != nil {
		s.Logger.Warn("Failed to load config, using defaults!", "error", cfgErr)
	} else {
		s.Logger.Info("Loaded config", "dir", configDir)
	}
	if logErr != nil {
		s.Logger.Warn("Log file unavailable, logging to stdout", "error", logErr)
	}
	if gelfErr != nil {
		s.Logger.Warn("GELF sink unavailable", "error", gelfErr)
	}

	s.Influx = influx.NewManager(config.GetInfluxConfig(), s.Zerolog,
		filepath.Join(logsDir, "influx_backup."+s.Start.Format("20060102_150405")+".lp.gz"))
	if err := s.Influx.Connect(ctx); err != nil {
		if !errors.Is(err, influx.ErrDisabled) {
			s.Logger.Warn("InfluxDB not available", "error", err)
		}
		s.Influx = nil
	}
	return s, nil
}

// Recorders returns the performance sinks of the session.
func (s *session) Recorders() []monitor.Recorder {
	if s.Influx == nil {
		return nil
	}
	return []monitor.Recorder{s.Influx}
}

// Close flushes and closes every sink. Errors are joined.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.Influx != nil {
		errs = append(errs, s.Influx.Close())
	}
	errs = append(errs, s.Slog.Close(ctx), s.OTel.Shutdown(ctx))
	s.closeFiles()
	return errors.Join(errs...)
}

func (s *session) closeFiles() {
	for _, f := range s.files {
		_ = f.Close()
	}
	s.files = nil
}

func zerologLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}
