package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veldora/dashlink/internal/config"
	"github.com/veldora/dashlink/internal/link"
	"github.com/veldora/dashlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/agent.example.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until config tells us the real level
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting agent",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"dashboard", cfg.Dashboard.Host,
		"port", cfg.Dashboard.Port,
		"secure", cfg.Dashboard.Secure,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	client := link.New(linkConfig(cfg), handleMessage, logger)

	// Initial connect. Credential rejections are fatal; transport failures
	// hand off to the reconnection coordinator.
	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, link.ErrUnauthorized) || errors.Is(err, link.ErrForbidden) {
			logger.Error("dashboard rejected credentials", "error", err)
			os.Exit(1)
		}
		logger.Warn("initial connect failed, entering reconnection", "error", err)
		go client.Reconnect(ctx)
	}
	defer client.Disconnect()

	// Periodic health reporting
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			m := client.Metrics()
			logger.Info("link health",
				"connected", m.Connected,
				"uptime", m.Uptime.Round(time.Second),
				"messages_received", m.MessagesReceived,
				"connect_attempts", m.ConnectAttempts,
				"reconnect_cycles", m.ReconnectCycles,
			)
		}
	}
}

// handleMessage processes one decoded dashboard payload.
func handleMessage(ctx context.Context, c *link.Client, payload map[string]any) error {
	kind, _ := payload["kind"].(string)

	switch kind {
	case "ping":
		return c.Send(ctx, map[string]any{"kind": "pong"})

	case "status":
		m := c.Metrics()
		return c.Send(ctx, map[string]any{
			"kind":              "status",
			"connected":         m.Connected,
			"uptime_seconds":    int64(m.Uptime.Seconds()),
			"messages_received": m.MessagesReceived,
			"version":           version.Version,
		})

	default:
		slog.Debug("unhandled payload", "kind", kind)
		return nil
	}
}

// linkConfig maps the file config onto the link client config.
func linkConfig(cfg *config.AgentConfig) link.Config {
	return link.Config{
		Host:     cfg.Dashboard.Host,
		Port:     cfg.Dashboard.Port,
		Token:    cfg.Dashboard.Token,
		Identity: cfg.Dashboard.Identity,
		Secure:   cfg.Dashboard.Secure,

		Heartbeat:            cfg.Link.Heartbeat,
		ReceiveGrace:         cfg.Link.ReceiveGrace,
		MaxReconnectAttempts: cfg.Link.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Link.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Link.ReconnectMaxDelay,
		HandshakeTimeout:     cfg.Link.HandshakeTimeout,
		WriteTimeout:         cfg.Link.WriteTimeout,
		ShutdownWait:         cfg.Link.ShutdownWait,
		FrameBuffer:          cfg.Link.FrameBuffer,
		SendRetries:          cfg.Link.SendRetries,
		SendStabilizeDelay:   cfg.Link.SendStabilizeDelay,
		DialTimeout:          cfg.Link.DialTimeout,
		KeepAlive:            cfg.Link.KeepAlive,
		DNSCacheTTL:          cfg.Link.DNSCacheTTL,

		DispatchWorkers:   cfg.Dispatch.Workers,
		DispatchQueueSize: cfg.Dispatch.QueueSize,
	}
}
