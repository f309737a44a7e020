package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/chatstore/internal/config"
	"github.com/PaulBabatuyi/chatstore/internal/data"
	"github.com/PaulBabatuyi/chatstore/internal/logging"
	"github.com/PaulBabatuyi/chatstore/internal/middleware"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	EnvFile string
}

// serveOptions holds flags for the serve command.
type serveOptions struct {
	Migrate bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand creates the chatstore CLI. Without a subcommand it serves.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	serve := &serveOptions{Migrate: true}

	cmd := &cobra.Command{
		Use:          "chatstore",
		Short:        "Conversation and message store for a chat application",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, serve)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "env file to load before reading the environment (default .env if present)")
	cmd.Flags().BoolVar(&serve.Migrate, "migrate", true, "create collection indexes before serving")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", true, "create collection indexes before serving")
	return cmd
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create collection indexes and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), root)
		},
	}
}

// bootstrap loads configuration, sets up logging and connects the store.
// The returned cleanup closes the store and the log file.
func bootstrap(ctx context.Context, root *rootOptions) (*config.Config, *log.Logger, *data.Store, func(), error) {
	cfg, err := config.Load(root.EnvFile)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger, logCloser, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	store := data.New(data.Options{
		URI:            cfg.MongoURL,
		Database:       cfg.DatabaseName,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)
	if err := store.Connect(ctx); err != nil {
		_ = logCloser.Close()
		return nil, nil, nil, nil, err
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store.Close(closeCtx)
		_ = logCloser.Close()
	}
	return cfg, logger, store, cleanup, nil
}

func runMigrate(ctx context.Context, root *rootOptions) error {
	_, logger, store, cleanup, err := bootstrap(ctx, root)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.EnsureIndexes(ctx); err != nil {
		return err
	}
	logger.Info("migration complete")
	return nil
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, store, cleanup, err := bootstrap(ctx, root)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.Migrate {
		migrateOnStartup(ctx, store, logger)
	}

	// small burst to allow a couple of quick retries
	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer limiter.Stop()

	grpcServer, err := newGRPCServer(cfg, limiter, logger)
	if err != nil {
		return err
	}
	registerService(grpcServer, newServer(store, NewConnectionHub(), logger))

	listenAddr := fmt.Sprintf(":%s", cfg.Port)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", "addr", listenAddr, "tls", cfg.TLSEnabled())
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("gRPC server exit: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down gRPC server")
	grpcServer.GracefulStop()
	return nil
}

// indexer creates the collection indexes.
type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// migrateOnStartup builds indexes before serving. A failure is logged and
// serving goes on: an existing database holding duplicate emails cannot take
// the unique index until it is cleaned up, and `migrate` reports it then.
func migrateOnStartup(ctx context.Context, store indexer, logger *log.Logger) bool {
	if err := store.EnsureIndexes(ctx); err != nil {
		logger.Warn("index creation failed, serving without them", "err", err)
		return false
	}
	return true
}

// newGRPCServer assembles server options: TLS when configured, logging then
// rate limiting on unary calls, logging on streams.
func newGRPCServer(cfg *config.Config, limiter *middleware.LimiterStore, logger *log.Logger) (*grpc.Server, error) {
	var serverOpts []grpc.ServerOption

	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	limited := map[string]bool{
		fullMethod("CreateUser"): true,
		fullMethod("LoginUser"):  true,
	}
	rpcLogger := logger.WithPrefix("rpc")

	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(rpcLogger),
			middleware.RateLimitUnaryInterceptor(limiter, limited, rpcLogger),
		),
		grpc.ChainStreamInterceptor(loggingStreamInterceptor(rpcLogger)),
	)
	return grpc.NewServer(serverOpts...), nil
}
