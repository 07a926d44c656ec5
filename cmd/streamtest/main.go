// streamtest checks both Adafruit IO channels for the configured feeds: it
// prints the last stored value of each feed over REST, then streams raw MQTT
// messages to the console.
// Usage: go run ./cmd/streamtest --config configs/dashboard.yaml
//
// Credentials come from the config file or the AIO_USERNAME and AIO_KEY
// environment variables.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rickgao/cacao-monitor/internal/api"
	"github.com/rickgao/cacao-monitor/internal/config"
	"github.com/rickgao/cacao-monitor/internal/connection"
	"github.com/rickgao/cacao-monitor/internal/model"
	"github.com/rickgao/cacao-monitor/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:    "streamtest",
		Usage:   "Print the last value and live messages of each configured feed",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/dashboard.yaml",
				Usage:   "path to configuration file",
			},
			&cli.StringFlag{
				Name:    "account",
				Sources: cli.EnvVars("AIO_USERNAME"),
				Usage:   "Adafruit IO account, overrides adafruit.account",
			},
			&cli.StringFlag{
				Name:    "api-key",
				Sources: cli.EnvVars("AIO_KEY"),
				Usage:   "Adafruit IO key, overrides adafruit.api_key",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "print full message JSON",
			},
		},
		Action: stream,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func stream(ctx context.Context, cmd *cli.Command) error {
	verbose := cmd.Bool("verbose")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if v := cmd.String("account"); v != "" {
		cfg.Adafruit.Account = v
	}
	if v := cmd.String("api-key"); v != "" {
		cfg.Adafruit.APIKey = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pull: one request per feed.
	apiClient := api.NewClient(cfg.Adafruit.RestURL, cfg.Adafruit.Account, cfg.Adafruit.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Adafruit.Timeout),
	)

	fmt.Println("=== Last stored values ===")
	for _, m := range cfg.ModelMetrics() {
		dp, err := apiClient.LastData(ctx, m.SourceKey)
		if err != nil {
			fmt.Printf("[PULL] feed=%s error=%v\n", m.SourceKey, err)
			continue
		}
		printDataPoint(m, dp, verbose)
	}

	// Push: one connection carrying every feed topic.
	connCfg := connection.DefaultClientConfig()
	connCfg.BrokerURL = cfg.Adafruit.BrokerURL
	connCfg.Username = cfg.Adafruit.Account
	connCfg.Password = cfg.Adafruit.APIKey
	connCfg.QoS = cfg.Push.QoS
	connCfg.ConnectTimeout = cfg.Push.ConnectTimeout
	connCfg.ClientIDPrefix = "cacao-streamtest"

	client := connection.NewClient(connCfg, logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer client.Close()

	var received atomic.Int64
	for _, m := range cfg.ModelMetrics() {
		topic := model.DeriveTopic(cfg.Adafruit.Account, m.SourceKey)
		if err := client.Subscribe(ctx, topic, printMessage(m, verbose, &received)); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		logger.Info("subscribed", "topic", topic)
	}

	logger.Info("streaming started - press Ctrl+C to stop")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete", "messages", received.Load())
			return nil
		case err := <-client.Errors():
			return fmt.Errorf("push channel: %w", err)
		case <-ticker.C:
			logger.Info("stats",
				"connected", client.IsConnected(),
				"messages", received.Load(),
			)
		}
	}
}

func printDataPoint(m model.Metric, dp *api.DataPoint, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(dp, "", "  ")
		fmt.Printf("[PULL] %s\n", data)
		return
	}
	fmt.Printf("[PULL] feed=%s value=%s %s created_at=%s\n",
		m.SourceKey, dp.Value, m.Unit, dp.CreatedAt.Format(time.RFC3339))
}

func printMessage(m model.Metric, verbose bool, received *atomic.Int64) connection.MessageHandler {
	return func(msg connection.TimestampedMessage) {
		received.Add(1)

		v, err := model.ParseValue(msg.Data)
		if err != nil {
			fmt.Printf("[PUSH] topic=%s malformed=%q\n", msg.Topic, msg.Data)
			return
		}
		if verbose {
			data, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Printf("[PUSH] %s\n", data)
			return
		}
		fmt.Printf("[PUSH] feed=%s value=%s %s at=%s\n",
			m.SourceKey, v, m.Unit, msg.ReceivedAt.Format(time.RFC3339))
	}
}
