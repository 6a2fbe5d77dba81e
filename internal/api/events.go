package api

import (
	"context"
	"maps"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/feednode/internal/events"
	"github.com/smazurov/feednode/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	eventTypes := map[string]any{
		"feed-state":      events.FeedStateChangedEvent{},
		"format-changed":  events.FormatChangedEvent{},
		"buffer-produced": events.BufferProducedEvent{},
		"level":           events.LevelEvent{},
		"schedule":        events.ScheduleChangedEvent{},
		"run-finished":    events.RunFinishedEvent{},
	}
	maps.Copy(eventTypes, exporters.EventTypes())

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time feed state, format changes, levels, branch counters and run results",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 64)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.FeedStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FormatChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.BufferProducedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.LevelEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ScheduleChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RunFinishedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.BranchStatsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Current state first so clients do not wait for the next transition
		if s.options.Run != nil {
			st := s.options.Run.Status()
			if err := send.Data(events.FeedStateChangedEvent{
				RunID:  st.RunID,
				State:  st.State,
				Reason: "connected",
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
