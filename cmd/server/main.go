package main

import (
	"context"
	"dm-lab/auth"
	"dm-lab/contract"
	"dm-lab/infrastructure/bus"
	"dm-lab/infrastructure/http/server"
	"dm-lab/moderation"
	"dm-lab/observability"
	"dm-lab/repositories"
	"dm-lab/runtime/workers"
	"dm-lab/search"
	"dm-lab/services"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until SIGINT/SIGTERM.
// Returning instead of exiting lets the deferred cleanups run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitoring := observability.NewMonitoring()
	sup := workers.NewSupervisor(log, config.RestartInterval)

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, log, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. User search index (Bluge)
	index, err := search.OpenUserIndex(config.BlugeFilepath, log)
	if err != nil {
		return exitRuntime, fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = index.Close()
	}()

	// 4. Delivery bus
	deliveryBus, err := buildBus(ctx, config, log, monitoring, sup)
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = deliveryBus.Close() }()

	// 5. Moderation
	moderator, err := buildModerator(config, log)
	if err != nil {
		return exitConfig, err
	}

	// 6. Repositories & services
	messages := repositories.NewMessageRepository(db, log, monitoring)
	conversations := repositories.NewConversationRepository(db, log, monitoring)
	users := repositories.NewUserRepository(db, monitoring)
	issuer := auth.NewTokenIssuer(config.AuthSecret, config.AuthTokenDuration)

	userService := services.NewUserService(log, users, index)
	if err := userService.Reindex(ctx); err != nil {
		return exitRuntime, fmt.Errorf("search index rebuild failed: %w", err)
	}

	sockets := server.NewSocketServer(log, deliveryBus, conversations, monitoring, config.ConnectionBufferSize)
	httpServer := server.NewServer(log, config.Address(), issuer, server.Services{
		Chat: services.NewChatService(log, messages, conversations, users,
			deliveryBus, moderator, monitoring, config.MaxContentLength),
		Directory: services.NewDirectoryService(log, conversations, messages, users),
		Auth:      services.NewAuthService(log, users, issuer, index),
		Users:     userService,
	}, sockets, monitoring)

	// 7. Supervised workers
	sup.Add(
		httpServer,
		workers.NewHeartbeatWorker(log, monitoring, config.MetricInterval),
	)

	log.Info("dm-lab server starting", "address", config.Address(), "bus", config.Bus)
	sup.Run(ctx)
	log.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config Config, log *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if log.Enabled(ctx, slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.WARNING)
}

// buildBus returns the configured bus. The memory bus fanout runs under the supervisor.
func buildBus(ctx context.Context, config Config, log *slog.Logger,
	monitoring *observability.Monitoring, sup contract.ISupervisor) (contract.Bus, error) {
	if config.Bus == busRedis {
		redisBus, err := bus.NewRedisBus(ctx, log, config.RedisURL, config.RedisPrefix, config.ConnectionBufferSize)
		if err != nil {
			return nil, fmt.Errorf("redis bus failed: %w", err)
		}
		return redisBus, nil
	}
	memoryBus := bus.NewMemoryBus(log, config.BufferSize, config.SinkTimeout, monitoring)
	sup.Add(memoryBus.Worker())
	return memoryBus, nil
}

func buildModerator(config Config, log *slog.Logger) (*moderation.Moderator, error) {
	if !config.ModerationEnabled {
		return nil, nil
	}
	char, err := CharacterRune(config.CharacterReplacement)
	if err != nil {
		return nil, err
	}
	data, err := moderation.NewEmbeddedLoader().LoadAll("censored")
	if err != nil {
		return nil, fmt.Errorf("censored words loading failed: %w", err)
	}
	log.Info("Moderation enabled", "words", len(data.Words), "languages", data.Languages)
	return moderation.NewModerator(data.Words, char)
}
