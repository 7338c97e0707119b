// Command syncctl runs one-off admin tasks against the sync database: seeding mappings,
// draining the queue, retrying failed tasks and writing reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/app"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/export"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/logging"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

const usage = `usage: syncctl [-config path] [-v] <command> [args]

commands:
  seed                     insert default field mappings for modules without any
  process [-limit N] [-types order,customer]
                           process one batch of due tasks
  retry <task-id>          requeue a failed task
  counts                   print task counts per status
  export [-status failed] [-level error]
                           write an xlsx report to the exports directory
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("syncctl", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no command given")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := logging.ParseLevel(cfg.Logging.Level)
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	a, err := app.New(cfg, &logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "seed":
		return seed(ctx, a)
	case "process":
		return process(ctx, a, rest)
	case "retry":
		return retry(ctx, a, rest)
	case "counts":
		return counts(ctx, a)
	case "export":
		return exportReport(ctx, a, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func seed(ctx context.Context, a *app.App) error {
	inserted, err := a.SeedMappings(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d field mappings\n", inserted)
	return nil
}

func process(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	limit := fs.Int("limit", a.Config.Sync.BatchSize, "max tasks to lease")
	types := fs.String("types", "", "comma separated object types")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var filter []string
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		if !models.IsValidObjectType(t) {
			return fmt.Errorf("unknown object type %q", t)
		}
		filter = append(filter, t)
	}

	res, err := a.Processor.ProcessBatch(ctx, *limit, filter...)
	if err != nil {
		return err
	}
	fmt.Printf("Leased %d: completed %d, retried %d, failed %d, skipped %d\n",
		res.Leased, res.Completed, res.Retried, res.Failed, res.Skipped)
	for _, e := range res.Errors {
		fmt.Printf("  %v\n", e)
	}
	return nil
}

func retry(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("retry needs exactly one task id")
	}
	id, err := cast.ToInt64E(args[0])
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid task id %q", args[0])
	}
	taskID, err := a.Queue.Retry(ctx, id)
	if err != nil {
		return err
	}
	if taskID != id {
		fmt.Printf("Task %d merged into pending task %d\n", id, taskID)
		return nil
	}
	fmt.Printf("Task %d requeued\n", id)
	return nil
}

func counts(ctx context.Context, a *app.App) error {
	c, err := a.Queue.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pending %d, processing %d, failed %d, completed %d (total %d)\n",
		c.Pending, c.Processing, c.Failed, c.Completed, c.Total())
	return nil
}

func exportReport(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	status := fs.String("status", models.StatusFailed, "task status to include")
	level := fs.String("level", models.LevelError, "minimum log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := a.Exporter.Save(ctx, export.Options{TaskStatus: *status, LogLevel: *level})
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
