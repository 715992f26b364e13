// Command uplift-export exports movement data: it submits one export job per
// configured request, waits for it, pages through the results and writes one
// file per athlete session.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
	"github.com/Sternrassler/uplift-export-client/pkg/config"
	"github.com/Sternrassler/uplift-export-client/pkg/jobstore"
	"github.com/Sternrassler/uplift-export-client/pkg/logging"
	"github.com/Sternrassler/uplift-export-client/pkg/metrics"
	"github.com/Sternrassler/uplift-export-client/pkg/orchestrator"
	"github.com/Sternrassler/uplift-export-client/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// run executes one export and returns the process exit code.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("uplift-export", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration")
	envJSONPath := fs.String("env-json", "env.json", "path to the env.json credentials file")
	dotEnvPath := fs.String("dotenv", ".env", "path to a .env file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := config.LoadDotEnv(*dotEnvPath); err != nil {
		log.Error().Err(err).Msg("Failed to load .env")
		return 1
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Str("path", *configPath).Msg("Failed to load config")
		return 1
	}
	if err := cfg.LoadEnvJSON(*envJSONPath); err != nil {
		log.Error().Err(err).Str("path", *envJSONPath).Msg("Failed to load env.json")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	logging.Setup(cfg.LoggingSetup())
	logger := logging.NewLogger("main")

	var recorder orchestrator.Recorder
	var health metrics.HealthCheck
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, job progress will not be recorded")
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
			recorder = jobstore.NewStore(rdb, cfg.Redis.TTL)
			health = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		}
	}

	if cfg.Metrics.Enabled {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(srvCtx, cfg.Metrics.Addr, health); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	exportClient, err := client.New(cfg.ClientConfig())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create export client")
		return 1
	}
	out, err := sink.New(cfg.Output.Format, cfg.Output.Directory)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create output sink")
		return 1
	}

	orch, err := orchestrator.New(exportClient, orchestrator.Config{
		Poller:   cfg.PollerConfig(),
		Reader:   cfg.ReaderConfig(),
		Sink:     out,
		Recorder: recorder,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create orchestrator")
		return 1
	}

	report, err := orch.Run(ctx, cfg.ExportRequests(time.Now()))
	printSummary(stdout, report)
	if err != nil {
		fmt.Fprintf(stdout, "Export failed: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Export process completed successfully!")
	return 0
}

func printSummary(w io.Writer, report *orchestrator.Report) {
	if report == nil {
		return
	}
	fmt.Fprintf(w, "Run %s (%s)\n", report.RunID, report.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUEST\tJOB\tSTATUS\tPAGES\tROWS\tSESSIONS")
	for _, j := range report.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
			j.Request, j.JobID, j.Status, j.Pages, j.Rows, j.Groups)
	}
	tw.Flush()
}
