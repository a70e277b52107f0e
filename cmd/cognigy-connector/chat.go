package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cognigy-connector/internal/common/config"
	"cognigy-connector/internal/common/database"
	"cognigy-connector/internal/common/logger"
	"cognigy-connector/internal/common/observability"
	"cognigy-connector/internal/connector"
	"cognigy-connector/internal/connector/transcript"
	"cognigy-connector/internal/models"
)

var (
	chatMetricsAddr string
	chatWait        time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run an interactive session against the configured endpoint",
	Long: `Reads one user turn per line from stdin and prints every normalized bot
message as a JSON line on stdout.

A line of the form "/context {json}" merges the object into the session
context together with the next turn.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides metrics.address)")
	chatCmd.Flags().DurationVar(&chatWait, "drain", 2*time.Second, "time to wait for streamed replies after stdin closes")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if chatMetricsAddr != "" {
		cfg.Metrics.Address = chatMetricsAddr
	}
	obs := observability.NewNoop()
	if cfg.Metrics.Address != "" {
		obs = observability.New(cfg.App.Name)
		serveMetrics(ctx, cfg.Metrics.Address, log)
	}
	defer obs.Shutdown()

	opts := []connector.Option{
		connector.WithLogger(log),
		connector.WithObservability(obs),
		connector.WithDelivery(printer(cmd.OutOrStdout(), log)),
	}

	if cfg.Transcript.Enable {
		rec, closeRedis, err := openTranscript(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeRedis()
		opts = append(opts, connector.WithTranscript(rec))
	}

	c, err := connector.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop(context.Background())

	err = readTurns(ctx, cmd.InOrStdin(), c)
	if err == nil && ctx.Err() == nil && c.Mode().SuppressesEmpty() {
		// Streamed replies keep arriving after the last line was sent.
		select {
		case <-ctx.Done():
		case <-time.After(chatWait):
		}
	}
	return err
}

func readTurns(ctx context.Context, in io.Reader, c *connector.Connector) error {
	scanner := bufio.NewScanner(in)
	var pending map[string]interface{}
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "/context "); ok {
			if err := json.Unmarshal([]byte(rest), &pending); err != nil {
				return fmt.Errorf("parse /context object: %w", err)
			}
			continue
		}

		msg := models.UserMessage{MessageText: line, SetContext: pending}
		pending = nil
		if err := c.UserSays(ctx, msg); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// printer writes each delivered message as one JSON line.
func printer(w io.Writer, log logger.Logger) func(*models.BotMessage) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(msg *models.BotMessage) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(msg); err != nil {
			log.Error("Writing bot message failed", map[string]interface{}{"error": err})
		}
	}
}

// newRedis is swapped in tests to observe the clients created per attempt.
var newRedis = database.NewRedis

func openTranscript(ctx context.Context, cfg *config.Config, log logger.Logger) (*transcript.Recorder, func(), error) {
	redis, err := connectRedis(ctx, cfg.Redis, log, 5, 500*time.Millisecond)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Redis connected successfully", map[string]interface{}{"address": cfg.Redis.Address})
	return transcript.NewRecorder(redis, cfg.Transcript, log), func() { redis.Close() }, nil
}

// connectRedis dials and pings with backoff. Clients whose ping failed are
// closed before the next attempt.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger, attempts int, delay time.Duration) (*database.RedisClient, error) {
	var redis *database.RedisClient
	err := retryWithBackoff(func() error {
		client, err := newRedis(cfg)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return err
		}
		redis = client
		return nil
	}, attempts, delay, log, "Redis connection")
	if err != nil {
		return nil, err
	}
	return redis, nil
}
