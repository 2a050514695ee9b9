package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomrelay/internal/bus"
	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/session"
)

const shutdownTimeout = 10 * time.Second

var (
	flagTCPAddr   string
	flagHTTPAddr  string
	flagRedisAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	Long: `Run the relay. Raw TCP clients connect on --tcp-addr; health, room
stats, metrics and the /ws endpoint are served on --http-addr.

Flags override the environment and .env.

Examples:
  roomrelay serve
  roomrelay serve --tcp-addr :9000 --http-addr ""
  roomrelay serve --redis-addr localhost:6379`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := server.NewConfigFromEnv()
		if cmd.Flags().Changed("tcp-addr") {
			cfg.TCPAddr = flagTCPAddr
		}
		if cmd.Flags().Changed("http-addr") {
			cfg.Port = flagHTTPAddr
		}
		if cmd.Flags().Changed("redis-addr") {
			cfg.RedisAddr = flagRedisAddr
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *server.Config) error {
	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Redis bus for cross-instance fan-out
	var b *bus.RedisBus
	var fwd session.Forwarder
	if cfg.RedisAddr != "" {
		instance := uuid.NewString()
		var err error
		b, err = bus.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisDB, instance, logger)
		if err != nil {
			logger.Error("redis connect", "err", err)
			return err
		}
		defer func() { _ = b.Close() }()
		fwd = b
		logger.Info("bus.connected", "addr", cfg.RedisAddr, "instance", instance)
	}

	srv := server.New(cfg, logger, fwd)
	if b != nil {
		go b.Subscribe(ctx, srv.Registry())
	}

	c := srv.Config()
	logger.Info("server.start", "tcp", c.TCPAddr, "http", c.Port, "prefix", c.CommandPrefix)

	err := srv.Run(ctx, shutdownTimeout)
	logger.Info("server.shutdown.complete")
	_ = os.Stdout.Sync()
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&flagTCPAddr, "tcp-addr", "", "raw TCP listen address (env TCP_ADDR)")
	serveCmd.Flags().StringVar(&flagHTTPAddr, "http-addr", "", "HTTP listen address, empty disables (env HTTP_ADDR)")
	serveCmd.Flags().StringVar(&flagRedisAddr, "redis-addr", "", "Redis address for cross-instance fan-out (env REDIS_ADDR)")
}
