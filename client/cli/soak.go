package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nearchat/client/generator"
	"nearchat/client/metrics"
	"nearchat/client/pool"
)

func soakCommand(e *env) *cobra.Command {
	var (
		workers  int
		messages int
		warmup   int
		csvPath  string
		chart    string
	)
	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Send generated traffic over several sessions and report confirmation latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := e.requireUser(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			open := func(ctx context.Context, label string) (pool.Endpoint, error) {
				s, err := e.app.OpenAs(ctx, label)
				if err != nil {
					return pool.Endpoint{}, err
				}
				return pool.FromSession(s), nil
			}
			fmt.Fprintf(out, "Starting soak against %s with workers=%d, messages=%d\n", e.cfg.WSURL, workers, messages)

			if warmup > 0 {
				fmt.Fprintln(out, "\n--- Starting Warmup Phase ---")
				start := time.Now()
				// the collector is not started yet, so nothing is recorded
				if err := runPhase(ctx, workers, warmup, e.metrics, open); err != nil {
					return err
				}
				fmt.Fprintf(out, "Warmup finished in %.2f seconds\n", time.Since(start).Seconds())
			}

			fmt.Fprintln(out, "\n--- Starting Main Phase ---")
			if err := e.metrics.Start(csvPath); err != nil {
				return err
			}
			start := time.Now()
			err := runPhase(ctx, workers, messages, e.metrics, open)
			duration := time.Since(start)
			e.metrics.Close()
			<-e.metrics.Done

			fmt.Fprintln(out, "--- Main Phase Complete ---")
			e.metrics.PrintSummary(out)
			fmt.Fprintf(out, "Wall Time: %.2f seconds\n", duration.Seconds())
			if chart != "" {
				if err := e.metrics.GenerateChart(chart); err != nil {
					return err
				}
				fmt.Fprintf(out, "Chart written to %s\n", chart)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "number of concurrent sessions")
	cmd.Flags().IntVar(&messages, "messages", 200, "total number of generated actions")
	cmd.Flags().IntVar(&warmup, "warmup", 0, "actions sent before measuring")
	cmd.Flags().StringVar(&csvPath, "csv", "results.csv", "per-action results file (empty to skip)")
	cmd.Flags().StringVar(&chart, "chart", "", "write a throughput chart to this HTML file")
	return cmd
}

func runPhase(ctx context.Context, workers, total int, collector *metrics.Collector, open pool.Opener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gen := generator.NewGenerator(total, 1000)
	go gen.Run(ctx)
	return pool.NewPool(workers, gen.Output, collector, open).Run(ctx)
}
