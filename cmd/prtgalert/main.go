package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"prtgalert/internal/config"
	"prtgalert/internal/logger"
	"prtgalert/internal/processor"
)

const usage = `usage: prtgalert [flags] [command]

commands:
  run           poll PRTG and send UP/DOWN alerts (default)
  status        print the current status report
  report        print the status report and push it
  test-notify   send a test notification
  migrate       rebuild the sensor store under the current schema

flags:
`

func main() {
	envFile := flag.String("env", ".env", "optional env file to load")
	message := flag.String("message", "", "text for test-notify")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if err := logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, command, cfg, *message); err != nil {
		log := logger.WithComponent("main")
		log.Error().Err(err).Str("command", command).Msg("command failed")
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		stop()
		logger.Close()
		os.Exit(1)
	}
}

func execute(ctx context.Context, command string, cfg *config.Config, message string) error {
	switch command {
	case "run", "status", "report", "test-notify", "migrate":
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	if command == "run" {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	p, err := processor.New(ctx, cfg)
	if err != nil {
		return err
	}

	switch command {
	case "run":
		// Run closes the processor itself.
		return p.Run(ctx)
	case "status", "report":
		defer p.Close()
		rep, err := p.Report(ctx, command == "report")
		if rep != nil {
			fmt.Println(rep.Text())
		}
		return err
	case "test-notify":
		defer p.Close()
		if err := p.TestNotification(ctx, message); err != nil {
			return err
		}
		fmt.Println("test notification sent")
		return nil
	default:
		defer p.Close()
		res, err := p.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("migrated %d rows to schema version %d\n", res.Rows, res.Version)
		return nil
	}
}
