// Command triage runs the feed pipeline steps from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"feedtriage/app"
	"feedtriage/config"
	"feedtriage/logging"
	"feedtriage/orchestrator"
	"feedtriage/types"
)

const usage = `usage: triage [-config file] <command> [flags]

commands:
  setup                         load sources and keywords from the sources file
  fetch   [-category c]         fetch every active source
  stats                         print database statistics
  cleanup [-days 30]            delete old news that was never published
  queue   [-min-score 2] [-limit 20]
                                enqueue high-priority news
  process [-limit 10]           deduplicate and dispatch queued news
  stream                        ingest raw items from Kafka until interrupted
`

var commands = map[string]bool{
	"setup": true, "fetch": true, "stats": true, "cleanup": true,
	"queue": true, "process": true, "stream": true,
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("triage", flag.ContinueOnError)
	configPath := global.String("config", "", "YAML config file (default feedtriage.yaml when present)")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("missing command")
	}
	command, rest := global.Arg(0), global.Args()[1:]
	if !commands[command] {
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts app.Options
	if command == "fetch" {
		opts.OnSource = func(done, total int, st types.FetchStats) {
			fmt.Fprintln(out, orchestrator.SourceLine(done, total, st))
		}
	}

	a, err := app.New(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "setup":
		sources, keywords, err := a.Setup(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Added %d sources and %d keywords from %s\n", sources, keywords, cfg.SourcesFile)

	case "fetch":
		fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
		category := fs.String("category", "", "only fetch sources in this category")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		fr, err := a.Runner.RunFetch(ctx, *category)
		if fr != nil {
			orchestrator.PrintSummary(out, fr.Summary)
		}
		return err

	case "stats":
		stats, err := a.Store.Stats(ctx)
		if err != nil {
			return err
		}
		orchestrator.PrintStats(out, stats)

	case "cleanup":
		fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
		days := fs.Int("days", orchestrator.DefaultRetentionDays, "delete news fetched more than this many days ago")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		n, err := a.Runner.Cleanup(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d news items older than %d days\n", n, *days)

	case "queue":
		fs := flag.NewFlagSet("queue", flag.ContinueOnError)
		minScore := fs.Float64("min-score", orchestrator.DefaultMinScore, "minimum priority score")
		limit := fs.Int("limit", orchestrator.DefaultQueueLimit, "maximum items to enqueue")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		n, err := a.Runner.Queue(ctx, *minScore, *limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Queued %d items with score >= %.1f\n", n, *minScore)

	case "process":
		fs := flag.NewFlagSet("process", flag.ContinueOnError)
		limit := fs.Int("limit", orchestrator.DefaultProcessLimit, "maximum items to dispatch")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		report, err := a.Runner.Process(ctx, *limit)
		if err != nil {
			return err
		}
		printReport(out, report)

	case "stream":
		consumer, err := a.NewStreamConsumer(ctx)
		if err != nil {
			return err
		}
		if err := consumer.Start(ctx); err != nil {
			consumer.Close()
			return err
		}
		fmt.Fprintf(out, "Consuming %s as %s. Press Ctrl+C to stop.\n", cfg.Kafka.InputTopic, cfg.Kafka.GroupID)
		<-ctx.Done()
		return consumer.Close()

	}
	return nil
}

func printReport(w io.Writer, r *orchestrator.ProcessReport) {
	if r.Pulled == 0 {
		fmt.Fprintln(w, "Queue is empty")
		return
	}
	fmt.Fprintf(w, "Batch %s\n", r.BatchID)
	fmt.Fprintf(w, "  Pulled:     %d\n", r.Pulled)
	fmt.Fprintf(w, "  Selected:   %d\n", r.Selected)
	fmt.Fprintf(w, "  Completed:  %d\n", r.Completed)
	fmt.Fprintf(w, "  Duplicates: %d\n", r.Duplicates)
	fmt.Fprintf(w, "  Failed:     %d\n", r.Failed)
	if r.ArchiveKey != "" {
		fmt.Fprintf(w, "  Archive:    %s\n", r.ArchiveKey)
	}
}
