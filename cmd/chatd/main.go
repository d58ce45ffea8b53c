package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatflow/internal/chat"
	"chatflow/internal/chatapi"
	"chatflow/internal/config"
	"chatflow/internal/crypto"
	"chatflow/internal/httpapi"
	"chatflow/internal/metrics"
	"chatflow/internal/session"
	"chatflow/internal/storage"
	"chatflow/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("client_id", cfg.ClientID).
		Str("db_driver", cfg.DB.Driver).
		Str("api_base_url", cfg.API.BaseURL).
		Msg("starting chatd")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, cfg.DB.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	cryptoManager, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize crypto manager")
	}

	holder := session.NewHolder(log.Logger.With().Str("component", "session").Logger(), nil)
	if cfg.Session.UserID != "" {
		holder.SignIn(chat.User{ID: cfg.Session.UserID}, cfg.Session.AccessToken)
	}

	state := chat.NewStore(chat.State{SelectedProviderID: cfg.Session.ProviderID})
	if cfg.Session.UserID != "" {
		if err := hydrateChats(ctx, store, state, cfg.Session.UserID); err != nil {
			log.Warn().Err(err).Msg("failed to load chat list")
		}
	}

	m := metrics.Global()
	sender := chat.NewSender(chat.Config{
		Store: state,
		Transport: chatapi.New(chatapi.Config{
			BaseURL:     cfg.API.BaseURL,
			Path:        cfg.API.Path,
			HTTPClient:  &http.Client{Timeout: cfg.API.Timeout},
			MaxRetries:  cfg.API.MaxRetries,
			BackoffBase: cfg.API.BackoffBase,
		}),
		Wallet:    holder,
		Auth:      holder,
		Budget:    tokens.Budget{},
		Persister: store,
		Pending:   session.NewPendingStore(rdb, cryptoManager, cfg.ClientID, cfg.Redis.PendingTTL),
		Limiter:   session.NewSendLimiter(rdb, cfg.Rate.Limit, cfg.Rate.Window),
		Logger:    log.Logger.With().Str("component", "sender").Logger(),
		Metrics:   m,
	})

	handler := httpapi.NewHandler(httpapi.Config{
		Store:   state,
		Sender:  sender,
		Holder:  holder,
		History: store,
		Logger:  log.Logger,
	})
	httpServer := &http.Server{
		Addr: cfg.HTTP.ListenAddr,
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			HealthPath:  cfg.HTTP.HealthPath,
			MetricsPath: cfg.HTTP.MetricsPath,
			Logger:      log.Logger.With().Str("component", "http").Logger(),
		}, handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

// hydrateChats registers the user's persisted chats so existing conversations
// are recognized before their messages are loaded.
func hydrateChats(ctx context.Context, store *storage.Store, state *chat.Store, userID string) error {
	chats, err := store.ListChats(ctx, userID)
	if err != nil {
		return err
	}
	state.Update(func(s chat.State) chat.State {
		for _, c := range chats {
			if s.Chats.Contains(c.ID) {
				continue
			}
			if c.OrganizationID != nil && *c.OrganizationID != "" {
				s.Chats.Orgs[*c.OrganizationID] = append(s.Chats.Orgs[*c.OrganizationID], c)
			} else {
				s.Chats.Personal = append(s.Chats.Personal, c)
			}
		}
		return s
	})
	log.Info().Int("chats", len(chats)).Msg("chat list loaded")
	return nil
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
