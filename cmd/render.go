package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/feednode/internal/config"
	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/pipeline"
)

// RenderSummary is printed when a headless run ends.
type RenderSummary struct {
	RunID    string               `json:"run_id"`
	Reason   string               `json:"reason"`
	Error    string               `json:"error,omitempty"`
	Buffers  uint64               `json:"buffers"`
	Caps     string               `json:"caps"`
	Branches []fanout.BranchStats `json:"branches"`
}

// CreateRenderCmd creates the render command.
func CreateRenderCmd() *cobra.Command {
	var (
		buffers  int
		realtime bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Run a bounded feed without the HTTP API",
		Long: `Produces the configured feed through the configured branches until the buffer limit is reached, ` +
			`then waits for every branch to drain. Without --realtime buffers are released as fast as the branches consume them.`,
		Args: cobra.NoArgs,
		Run: humacli.WithOptions(func(cmd *cobra.Command, _ []string, opts *config.Options) {
			logger := logging.GetLogger("main")

			schedule, err := config.LoadSchedule(opts.ScheduleFile)
			if err != nil {
				logger.Error("Failed to load schedule", "error", err, "path", opts.ScheduleFile)
				os.Exit(1)
			}
			cfg, err := pipeline.ConfigFromOptions(opts, schedule)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}
			applyRenderFlags(&cfg, buffers, realtime)

			run, err := pipeline.New(cfg, nil)
			if err != nil {
				logger.Error("Failed to build run", "error", err)
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			runErr := run.Run(ctx)

			summary := summarize(run)
			if err := writeSummary(cmd.OutOrStdout(), summary, asJSON); err != nil {
				logger.Error("Failed to write summary", "error", err)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				os.Exit(1)
			}
		}),
	}

	cmd.Flags().IntVarP(&buffers, "buffers", "n", 300, "Buffers to produce before end-of-stream")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace buffers against the wall clock")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func applyRenderFlags(cfg *pipeline.Config, buffers int, realtime bool) {
	if buffers > 0 {
		cfg.MaxBuffers = uint64(buffers)
	}
	cfg.Sync = realtime
	if !realtime {
		for i := range cfg.Branches {
			cfg.Branches[i].Sink.Sync = false
		}
	}
}

func summarize(run *pipeline.Run) RenderSummary {
	status := run.Status()
	return RenderSummary{
		RunID:    status.RunID,
		Reason:   status.Reason,
		Error:    status.Error,
		Buffers:  status.NextSeq,
		Caps:     status.Caps,
		Branches: run.Branches(),
	}
}

func writeSummary(w io.Writer, s RenderSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "run %s: %s after %d buffers (%s)\n", s.RunID, s.Reason, s.Buffers, s.Caps)
	if s.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", s.Error)
	}
	for _, b := range s.Branches {
		state := "ok"
		if b.Failed {
			state = "failed"
		}
		fmt.Fprintf(w, "  %-12s %-6s delivered=%d dropped=%d leaked=%d leak=%s\n",
			b.ID, state, b.Delivered, b.Dropped, b.Leaked, b.Leak)
	}
	return nil
}
