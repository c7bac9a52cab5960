// Command session-audit consumes session events from RabbitMQ and appends
// one line per event to logs/session.log.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iliyamo/rentdesk-portal/internal/config"
	"github.com/iliyamo/rentdesk-portal/internal/logging"
	"github.com/iliyamo/rentdesk-portal/internal/queue"
)

func main() {
	_ = godotenv.Load()
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	logger := logging.New(env, os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir := os.Getenv("SESSION_LOG_DIR")
	if dir == "" {
		dir = "logs"
	}
	c := &queue.Consumer{URL: config.AMQPURL(), Dir: dir, Log: logger}
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("session consumer stopped")
	}
	logger.Info().Msg("session consumer stopped")
}
