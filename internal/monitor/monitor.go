package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/modsync/vehicle/internal/model"
)

// DefaultInterval is the sampling period when Dependencies.Interval is zero.
const DefaultInterval = time.Second

// Recorder receives every sample. storage.PerformanceRecorder backends and
// influx.Manager both satisfy it.
type Recorder interface {
	RecordPerformance(s model.PerformanceSample) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// Source fills the party fields of a sample. Runtime fields are added
	// by the service.
	Source     func() model.PerformanceSample
	Recorders  []Recorder
	StatusPath string // status file rewritten on every sample, optional
	Interval   time.Duration
	Logger     *slog.Logger
}

// Service periodically samples party status.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
	last      model.PerformanceSample
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent sample.
func (s *Service) Last() model.PerformanceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Sample takes one sample, writes the status file and hands the sample
// to every recorder. Recorder failures are logged.
func (s *Service) Sample() model.PerformanceSample {
	perf := s.deps.Source()
	if perf.Time.IsZero() {
		perf.Time = time.Now()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	perf.HeapAllocMB = float64(mem.HeapAlloc) / (1 << 20)
	perf.Goroutines = runtime.NumGoroutine()

	if s.deps.StatusPath != "" {
		if err := writeStatus(s.deps.StatusPath, perf); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}
	for _, r := range s.deps.Recorders {
		if err := r.RecordPerformance(perf); err != nil {
			s.deps.Logger.Error("Error recording performance sample", "error", err)
		}
	}

	s.mu.Lock()
	s.last = perf
	s.mu.Unlock()
	return perf
}

func writeStatus(path string, perf model.PerformanceSample) error {
	data, err := json.MarshalIndent(perf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Sample()
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
