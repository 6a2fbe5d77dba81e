// Package cmd holds the feednode commands: the default service that runs a
// feed behind the HTTP API, and the headless helpers.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/feednode/internal/api"
	"github.com/smazurov/feednode/internal/config"
	"github.com/smazurov/feednode/internal/events"
	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/metrics/exporters"
	"github.com/smazurov/feednode/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

// Service runs one feed together with the HTTP API until the feed ends or
// Stop is called.
type Service struct {
	opts   *config.Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewService prepares a service. Nothing is built until Start.
func NewService(opts *config.Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		opts:   opts,
		logger: logging.GetLogger("main"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start builds the run and serves the API. It blocks until the run ends,
// the HTTP server fails or Stop is called.
func (s *Service) Start() error {
	defer s.once.Do(func() { close(s.done) })

	eventBus := events.New()
	logging.SetLogCallback(func(entry logging.LogEntry) {
		eventBus.Publish(events.LogEntryEvent{
			Seq:        entry.Seq,
			Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
			Level:      entry.Level,
			Module:     entry.Module,
			Message:    entry.Message,
			Attributes: entry.Attributes,
		})
	})
	defer logging.SetLogCallback(nil)

	manager := config.NewScheduleManager(s.opts.ScheduleFile)
	if err := manager.Load(); err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	cfg, err := pipeline.ConfigFromOptions(s.opts, manager.Config())
	if err != nil {
		return err
	}
	run, err := pipeline.New(cfg, eventBus)
	if err != nil {
		return err
	}

	if s.opts.ScheduleWatch {
		watcher, err := s.watchSchedule(manager, run)
		if err != nil {
			s.logger.Warn("Schedule watch disabled", "path", manager.Path(), "error", err)
		} else {
			defer func() {
				if err := watcher.Stop(); err != nil {
					s.logger.Debug("Schedule watcher stop failed", "error", err)
				}
			}()
		}
	}

	sseExporter := exporters.NewSSEExporter(eventBus)
	sseExporter.Start(s.ctx)
	defer sseExporter.Stop()

	server := api.NewServer(&api.Options{
		AuthUsername:      s.opts.AuthUsername,
		AuthPassword:      s.opts.AuthPassword,
		Run:               run,
		Schedule:          manager,
		EventBus:          eventBus,
		PrometheusHandler: exporters.HTTPHandler(),
	})

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", s.opts.Port)
		err := server.Start(s.opts.Port)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			cancel()
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.logger.Debug("systemd notify failed", "error", err)
	}

	runErr := run.Run(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := server.Stop(); err != nil {
		s.logger.Error("Error stopping HTTP server", "error", err)
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	if errors.Is(runErr, context.Canceled) && s.ctx.Err() != nil {
		return nil
	}
	return runErr
}

func (s *Service) watchSchedule(manager *config.ScheduleManager, run *pipeline.Run) (*config.Watcher[config.ScheduleConfig], error) {
	logger := logging.GetLogger("config")
	watcher := config.NewConfigWatcher(manager.Path(), config.LoadSchedule, logger,
		config.WithErrorHandler[config.ScheduleConfig](func(err error) {
			logger.Warn("Schedule reload failed", "error", err)
		}),
	)

	watcher.OnReload(func(schedule config.ScheduleConfig) {
		manager.Replace(schedule)
		if err := run.ApplySchedule(s.ctx, schedule); err != nil {
			logger.Warn("Schedule not fully applied", "error", err)
			return
		}
		logger.Info("Schedule reloaded", "changes", len(schedule.Changes), "cycle", len(schedule.Cycle))
	})
	if err := watcher.Start(); err != nil {
		return nil, err
	}
	return watcher, nil
}

// Stop cancels the run and waits for Start to return.
func (s *Service) Stop() {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn("Shutdown timed out")
	}
}
