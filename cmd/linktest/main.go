// linktest connects to a dashboard and prints every payload to the console.
// Usage: go run ./cmd/linktest --config configs/agent.example.yaml
//
// Useful for verifying the handshake and watching live traffic without
// running the full agent.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veldora/dashlink/internal/config"
	"github.com/veldora/dashlink/internal/link"
)

func main() {
	configPath := flag.String("config", "configs/agent.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full payload JSON")
	hello := flag.Bool("hello", true, "send a hello payload after connecting")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	client := link.New(link.Config{
		Host:     cfg.Dashboard.Host,
		Port:     cfg.Dashboard.Port,
		Token:    cfg.Dashboard.Token,
		Identity: cfg.Dashboard.Identity,
		Secure:   cfg.Dashboard.Secure,
	}, printPayload(*verbose), logger)

	logger.Info("connecting", "host", cfg.Dashboard.Host, "port", cfg.Dashboard.Port)
	if err := client.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	if *hello {
		err := client.Send(ctx, map[string]any{
			"kind": "hello",
			"time": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			logger.Error("hello failed", "error", err)
		}
	}

	logger.Info("listening, press Ctrl+C to stop")
	<-ctx.Done()

	m := client.Metrics()
	logger.Info("session summary",
		"messages_received", m.MessagesReceived,
		"uptime", m.Uptime.Round(time.Second),
		"reconnect_cycles", m.ReconnectCycles,
	)
}

// printPayload returns a handler that dumps payloads to stdout.
func printPayload(verbose bool) link.Handler {
	return func(ctx context.Context, c *link.Client, payload map[string]any) error {
		if verbose {
			data, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("%s\n%s\n", time.Now().Format("15:04:05.000"), data)
			return nil
		}

		kind, _ := payload["kind"].(string)
		if kind == "" {
			kind = "unknown"
		}
		fmt.Printf("%s  %-12s  %d keys\n", time.Now().Format("15:04:05.000"), kind, len(payload))
		return nil
	}
}
