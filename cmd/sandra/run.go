package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/CommonRoad/sandra/internal/config"
	"github.com/CommonRoad/sandra/internal/decider"
	"github.com/CommonRoad/sandra/internal/llm"
	"github.com/CommonRoad/sandra/internal/observability"
	"github.com/CommonRoad/sandra/internal/results"
)

func buildRunCmd() *cobra.Command {
	var recordDir string

	cmd := &cobra.Command{
		Use:   "run <scenario.xml>",
		Short: "Decide once on a recorded scenario",
		Long:  "Prompts the model for a ranked decision on a single scenario file,\nverifies the ranking and writes the outcome CSV to the results directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer signalContext(cmd)()
			cfg, log, metrics, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			client, err := llm.New(cfg, log, metrics)
			if err != nil {
				return err
			}
			if recordDir != "" {
				client.Record(recordDir)
			}
			dec := decider.NewWithClient(cfg, log, metrics, client)

			outcome, err := dec.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, a := range outcome.Ranking {
				marker := " "
				if outcome.Action != nil && i == outcome.VerifiedID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %d. %s\n", marker, i+1, a)
			}
			if outcome.Action == nil {
				fmt.Fprintln(out, "no ranked action verified, fail-safe corridor taken")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&recordDir, "record", "", "Directory for recording prompts and raw model responses")
	return cmd
}

func buildHighwayCmd() *cobra.Command {
	var seeds []int64

	cmd := &cobra.Command{
		Use:   "highway",
		Short: "Drive closed-loop highway episodes",
		Long:  "Runs the simulated highway environment for every configured seed:\neach decision step prompts the model, verifies the ranking and executes\nthe accepted maneuver, falling back to braking when nothing verifies.",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer signalContext(cmd)()
			cfg, log, metrics, err := setup()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(seeds) > 0 {
				cfg.Highway.Seeds = seeds
			}
			if len(cfg.Highway.Seeds) == 0 {
				return fmt.Errorf("no seeds configured")
			}

			client, err := llm.New(cfg, log, metrics)
			if err != nil {
				return err
			}
			var store *results.Store
			if cfg.Paths.Database != "" {
				store, err = results.OpenStore(cfg.Paths.Database)
				if err != nil {
					return err
				}
				defer store.Close()
			}
			shutdownMetrics := serveMetrics(cfg, log, metrics)
			defer shutdownMetrics()

			ctx := cmd.Context()
			for _, seed := range cfg.Highway.Seeds {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				hd, err := decider.NewHighway(cfg, log, metrics, client, seed)
				if err != nil {
					return err
				}
				if store != nil {
					hd.WithStore(store)
				}
				log.Info(ctx, "starting episode", "seed", seed)
				if err := hd.Run(ctx); err != nil {
					return fmt.Errorf("episode with seed %d: %w", seed, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seed %d done, results in %s\n", seed, cfg.ResultsFolder(seed))
			}
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&seeds, "seed", nil, "Episode seeds (overrides the configured list)")
	return cmd
}

// serveMetrics exposes the prometheus registry while long runs are in
// flight. The returned function shuts the listener down.
func serveMetrics(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(context.Background(), "metrics endpoint failed", "error", err)
		}
	}()
	return func() { _ = srv.Close() }
}
