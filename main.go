package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/config"
	"github.com/msgvis/msgvis/pkg/fixtures"
	"github.com/msgvis/msgvis/pkg/logging"
	"github.com/msgvis/msgvis/pkg/shell"
	"github.com/msgvis/msgvis/pkg/tasks"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to the .env file loaded into the environment")
	noColor := flag.Bool("no-color", false, "disable coloured output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] task[:arg,key=value] [task ...]\n\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nRun \"%s list\" to see every task.\n", os.Args[0])
	}
	flag.Parse()

	// .env values fill in for unset environment variables.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
		return 1
	}

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.IsDevelopment(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("project_root", cfg.ProjectRoot),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("redis", cfg.Redis.Enabled()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := tasks.NewAppBackend(cfg, logger)
	defer backend.Close()

	runner := tasks.NewRunner(tasks.Env{
		Config:   cfg,
		Out:      tasks.NewPrinter(os.Stdout, *noColor),
		Shell:    shell.NewExecRunner(logger),
		Backend:  backend,
		Dial:     tasks.SSHDialer(logger),
		Registry: fixtures.CorpusRegistry(),
		Logger:   logger,
	}, tasks.Builtin())

	if err := runner.Run(ctx, flag.Args()); err != nil {
		return 1
	}
	return 0
}
