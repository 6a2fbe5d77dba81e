package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/feednode/internal/api/models"
	"github.com/smazurov/feednode/internal/config"
	"github.com/smazurov/feednode/internal/events"
	"github.com/smazurov/feednode/internal/media"
	"github.com/smazurov/feednode/internal/negotiate"
	"github.com/smazurov/feednode/internal/pipeline"
)

func (s *Server) run() (RunController, error) {
	if s.options.Run == nil {
		return nil, huma.Error503ServiceUnavailable("no run configured")
	}
	return s.options.Run, nil
}

func (s *Server) registerRunRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/run",
		Summary:     "Run Status",
		Description: "Feed state, next sequence number, current caps and PTS of the run",
		Tags:        []string{"run"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.RunResponse, error) {
		run, err := s.run()
		if err != nil {
			return nil, err
		}
		return &models.RunResponse{Body: run.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-branches",
		Method:      http.MethodGet,
		Path:        "/api/branches",
		Summary:     "List Branches",
		Description: "Queue depth and delivered, dropped and leaked counts per branch",
		Tags:        []string{"run"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.BranchListResponse, error) {
		run, err := s.run()
		if err != nil {
			return nil, err
		}
		branches := run.Branches()
		return &models.BranchListResponse{
			Body: models.BranchListData{Branches: branches, Count: len(branches)},
		}, nil
	})
}

func (s *Server) registerScheduleRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-schedule",
		Method:      http.MethodGet,
		Path:        "/api/schedule",
		Summary:     "Get Schedule",
		Description: "Active cycle table and pending explicit format changes",
		Tags:        []string{"schedule"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.ScheduleResponse, error) {
		run, err := s.run()
		if err != nil {
			return nil, err
		}

		every, table := run.Cycle()
		data := models.ScheduleData{
			NextSeq: run.Status().NextSeq,
			Every:   every,
			Cycle:   make([]string, 0, len(table)),
			Pending: []models.ChangeData{},
		}
		for _, f := range table {
			data.Cycle = append(data.Cycle, f.Caps())
		}
		for _, ch := range run.Pending() {
			data.Pending = append(data.Pending, models.ChangeData{Trigger: ch.Trigger, Caps: ch.Format.Caps()})
		}
		if s.options.Schedule != nil {
			data.File = s.options.Schedule.Path()
		}
		return &models.ScheduleResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "schedule-change",
		Method:        http.MethodPost,
		Path:          "/api/schedule",
		Summary:       "Schedule Format Change",
		Description:   "Apply new caps from a trigger sequence number on. The trigger must not have been produced yet.",
		Tags:          []string{"schedule"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 409, 422, 500, 503},
	}, func(ctx context.Context, input *models.ScheduleChangeRequest) (*models.ScheduleChangeResponse, error) {
		run, err := s.run()
		if err != nil {
			return nil, err
		}

		f, err := media.ParseCaps(input.Body.Caps)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid caps", err)
		}

		if err := run.Schedule(ctx, input.Body.Trigger, f); err != nil {
			switch {
			case errors.Is(err, negotiate.ErrTriggerPassed):
				return nil, huma.Error409Conflict("trigger already produced", err)
			case errors.Is(err, pipeline.ErrFinished):
				return nil, huma.Error409Conflict("run finished", err)
			case errors.Is(err, pipeline.ErrUnproducible):
				return nil, huma.Error422UnprocessableEntity("caps not producible", err)
			}
			return nil, huma.Error422UnprocessableEntity("change rejected", err)
		}

		if input.Body.Persist && s.options.Schedule != nil {
			change := config.ChangeConfig{Trigger: input.Body.Trigger, Caps: f.Caps()}
			if err := s.options.Schedule.AddChange(change); err != nil {
				s.logger.Error("Failed to persist schedule change", "trigger", change.Trigger, "error", err)
				return nil, huma.Error500InternalServerError("change applied but not saved", err)
			}
		}

		s.eventBus.Publish(events.ScheduleChangedEvent{
			Trigger:   input.Body.Trigger,
			Caps:      f.Caps(),
			Source:    "api",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		s.logger.Info("Format change scheduled", "trigger", input.Body.Trigger, "caps", f.Caps())

		return &models.ScheduleChangeResponse{
			Body: models.ChangeData{Trigger: input.Body.Trigger, Caps: f.Caps()},
		}, nil
	})
}
