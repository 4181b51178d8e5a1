package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"drawn-of-war/internal/agent"
	"drawn-of-war/internal/domain"
	"drawn-of-war/internal/engine"
	"drawn-of-war/internal/infrastructure/storage"
	"drawn-of-war/internal/library"
	"drawn-of-war/internal/server"
	"drawn-of-war/internal/syncclient"
	"drawn-of-war/internal/version"
	"drawn-of-war/pkg/logger"
)

func init() {
	logger.Init()
}

func main() {
	// 1. Парсинг конфигурации
	var (
		port       string
		dbPath     string
		withBot    bool
		countdown  int
		libraryURL string
	)
	flag.StringVar(&port, "port", envOr("DOW_PORT", "8080"), "HTTP port")
	flag.StringVar(&dbPath, "db", envOr("DOW_DB_PATH", "data/matches.db"), "SQLite file for deployment state (empty disables persistence)")
	flag.BoolVar(&withBot, "bot", false, "attach a headless bot as player2 to every new match")
	flag.IntVar(&countdown, "countdown", envInt("DOW_COUNTDOWN", 3), "seconds between lock-in and combat start")
	flag.StringVar(&libraryURL, "library", os.Getenv("DOW_LIBRARY_URL"), "creature library base URL for the bot roster")
	flag.Parse()

	logger.Log.Info("Starting Drawn of War sync server...")
	logger.Log.Info(version.String())

	// 2. Хранилище
	var store engine.Store
	if dbPath != "" {
		s, err := storage.Open(dbPath)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to open match store")
		}
		defer func() {
			if err := s.Close(); err != nil {
				logger.Log.WithError(err).Warn("Failed to close match store")
			}
		}()
		store = s
	} else {
		logger.Log.Warn("Persistence disabled, matches live in memory only")
	}

	// 3. Ядро
	cfg := engine.NewConfig()
	cfg.Countdown = countdown
	svc := engine.NewService(cfg, store, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if withBot {
		attachBots(gctx, g, svc, port, libraryURL)
	}

	// 4. Запуск сервера
	srv := server.New(svc, port)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Log.WithError(err).Error("Server stopped with error")
	}

	logger.Log.Info("Shutting down...")
	svc.Shutdown()
	logger.Log.Info("Done.")
}

// attachBots подключает бота вторым игроком к каждому новому матчу.
func attachBots(ctx context.Context, g *errgroup.Group, svc *engine.MatchService, port, libraryURL string) {
	url := "ws://127.0.0.1:" + port + "/ws/deployment"
	var lib *library.Client
	if libraryURL != "" {
		lib = library.NewClient(library.NewConfig(libraryURL))
	}

	svc.OnMatchCreated(func(matchID string) {
		g.Go(func() error {
			roster := agent.DefaultRoster(domain.Player2)
			if lib != nil {
				fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				creatures, err := lib.Roster(fetchCtx, domain.Player2)
				cancel()
				if err != nil {
					logger.Log.WithError(err).Warn("Bot roster unavailable, using default")
				} else if len(creatures) > 0 {
					roster = creatures
				}
			}

			bot := agent.NewBot(syncclient.DefaultConfig(url, matchID, domain.Player2), roster)
			if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Match("agent", matchID, string(domain.Player2)).WithError(err).Warn("Bot stopped")
			}
			// Ошибка бота не должна гасить сервер.
			return nil
		})
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Log.Warnf("ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return n
}
