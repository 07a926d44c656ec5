package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cacao-monitor/internal/config"
	"github.com/rickgao/cacao-monitor/internal/dashboard"
	"github.com/rickgao/cacao-monitor/internal/display"
	"github.com/rickgao/cacao-monitor/internal/metrics"
	"github.com/rickgao/cacao-monitor/internal/tui"
	"github.com/rickgao/cacao-monitor/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:    "dashboard",
		Usage:   "Live cacao farm sensor readings from Adafruit IO",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/dashboard.yaml",
				Usage:   "path to configuration file (optional when credentials are given)",
			},
			&cli.StringFlag{
				Name:    "account",
				Usage:   "Adafruit IO account, overrides adafruit.account",
				Sources: cli.EnvVars("AIO_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Adafruit IO key, overrides adafruit.api_key",
				Sources: cli.EnvVars("AIO_KEY"),
			},
			&cli.BoolFlag{
				Name:  "headless",
				Usage: "log readings instead of drawing the terminal view",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write logs to this file (terminal view only, default discards logs)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	headless := cmd.Bool("headless")

	logOut, closeLog, err := logOutput(headless, cmd.String("log-file"))
	if err != nil {
		return err
	}
	defer closeLog()

	// Configure logging level
	logLevel := slog.LevelInfo
	if cmd.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	configPath := cmd.String("config")
	logger.Info("starting dashboard",
		"version", version.String(),
		"config", configPath,
	)

	cfg, err := loadConfig(configPath, cmd.String("account"), cmd.String("api-key"))
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		"account", cfg.Adafruit.Account,
		"rest_url", cfg.Adafruit.RestURL,
		"broker_url", cfg.Adafruit.BrokerURL,
		"metrics", len(cfg.Metrics),
		"push", cfg.Push.IsEnabled(),
		"shared", cfg.Push.Shared,
	)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dash, err := dashboard.New(cfg, dashboard.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dash.Run(gctx)
	})

	if cfg.Server.Port > 0 {
		srv := metrics.NewServer(cfg.Server.Port, cfg.Server.Path, dash.Recorder().Registry(), dash.Health, logger)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if headless {
		g.Go(func() error {
			logReadings(gctx, dash.Board(), logger)
			return nil
		})
	} else {
		g.Go(func() error {
			defer stop()
			return tui.Run(gctx, dash.Board())
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// loadConfig reads path when it exists, applies flag overrides and validates.
func loadConfig(path, account, apiKey string) (*config.DashboardConfig, error) {
	cfg, err := config.LoadWithDefaults(path)
	if errors.Is(err, fs.ErrNotExist) && account != "" {
		cfg, err = config.Default(account, apiKey), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if account != "" {
		cfg.Adafruit.Account = account
	}
	if apiKey != "" {
		cfg.Adafruit.APIKey = apiKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// logOutput picks the log destination. The terminal view owns stdout.
func logOutput(headless bool, path string) (io.Writer, func(), error) {
	if headless {
		return os.Stdout, func() {}, nil
	}
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// logReadings logs every tile whose reading changed until ctx is done.
func logReadings(ctx context.Context, board *display.Board, logger *slog.Logger) {
	seen := make(map[string]uint64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-board.OnChange():
		}

		for _, t := range board.Snapshot() {
			if t.Loading() || seen[t.Metric.SourceKey] == t.Reading.Seq {
				continue
			}
			seen[t.Metric.SourceKey] = t.Reading.Seq
			logger.Info("reading",
				"metric", t.Metric.DisplayName,
				"value", t.Text,
				"channel", t.Reading.Channel,
			)
		}
	}
}
