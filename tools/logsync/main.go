package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"vehicle-telemetry/internal/logsync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		host      string
		port      int
		baseURL   string
		token     string
		statePath string
		logsPath  string
		timeout   time.Duration
	)

	flagSet := pflag.NewFlagSet("logsync", pflag.ContinueOnError)
	flagSet.StringVar(&host, "host", "localhost", "device host")
	flagSet.IntVar(&port, "port", 5000, "device HTTP port")
	flagSet.StringVar(&baseURL, "url", "", "device base URL (overrides --host and --port)")
	flagSet.StringVar(&token, "token", os.Getenv("LOGSYNC_TOKEN"), "bearer token for the device API")
	flagSet.StringVar(&statePath, "state", logsync.DefaultStateFile, "sync state file")
	flagSet.StringVar(&logsPath, "logs", logsync.DefaultLogsFile, "local log file")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	// positional form: logsync [host [port]]
	args := flagSet.Args()
	if len(args) > 2 {
		return fmt.Errorf("unexpected argument: %s", args[2])
	}
	if len(args) > 0 {
		host = args[0]
	}
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		port = parsed
	}
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", host, port)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	syncer, err := logsync.NewSyncer(logsync.Config{
		BaseURL:   baseURL,
		Token:     token,
		StatePath: statePath,
		LogsPath:  logsPath,
		Timeout:   timeout,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state, err := logsync.LoadState(statePath)
	if err != nil {
		return err
	}
	if state.LastTimestamp > 0 {
		logger.Printf("last sync position %s", time.UnixMilli(int64(state.LastTimestamp*1000)).Format(time.RFC3339))
	} else {
		logger.Printf("no previous sync")
	}

	result, err := syncer.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync from %s: %w", baseURL, err)
	}
	logger.Printf("sync complete: %d new, %d stored in %s", result.Fetched, result.Total, logsPath)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `logsync pulls raw log rows from a telemetry device.

Usage:
  logsync [flags] [host [port]]

Flags:
`)
	flagSet.PrintDefaults()
}
