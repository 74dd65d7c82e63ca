package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"courier/internal/api"
	"courier/internal/config"
	"courier/internal/credentials"
	"courier/internal/dispatch"
	"courier/internal/models"
	"courier/internal/provider"
	"courier/internal/queue"
	"courier/internal/storage"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "courier — multi-messenger message dispatch service",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(tokenCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the courier server and dispatch workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			if cfg.Sentry.DSN != "" {
				if err := sentry.Init(sentry.ClientOptions{
					Dsn:              cfg.Sentry.DSN,
					Environment:      cfg.Sentry.Environment,
					Release:          version,
					AttachStacktrace: true,
				}); err != nil {
					log.Error().Err(err).Msg("sentry init failed")
				}
				defer sentry.Flush(2 * time.Second)
			}

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			registry := buildRegistry(cfg)

			var cache *credentials.TokenCache
			if cfg.Cache.Enabled {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})
				cache = credentials.NewTokenCache(rdb, cfg.Cache.TTL)
				log.Info().Str("addr", cfg.Cache.Addr).Msg("token cache enabled")
			}
			creds := credentials.NewStore(store, registry, cache, log)

			policy := dispatch.Policy{
				MaxRetries:  cfg.Dispatch.MaxRetries,
				BackoffBase: cfg.Dispatch.BackoffBase,
				BackoffCap:  cfg.Dispatch.BackoffCap,
				Jitter:      cfg.Dispatch.Jitter,
			}
			worker := dispatch.NewWorker(store, creds, registry, policy, cfg.Dispatch.LeaseTimeout, log)
			pool := dispatch.NewPool(cfg.Dispatch, store, worker, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			var wake api.WakeFunc = func(ctx context.Context, messageID string) { pool.Wake() }

			var mq *queue.Client
			if cfg.Queue.Enabled {
				mq, err = queue.NewClient(cfg.Queue.URL, cfg.Queue.Queue, log)
				if err != nil {
					return fmt.Errorf("failed to connect to queue: %w", err)
				}
				defer mq.Close()

				if err := mq.Consume(ctx, pool.Wake); err != nil {
					return fmt.Errorf("failed to start queue consumer: %w", err)
				}
				log.Info().Str("queue", cfg.Queue.Queue).Msg("work queue connected")

				wake = func(ctx context.Context, messageID string) {
					if err := mq.Publish(ctx, messageID); err != nil {
						log.Warn().Err(err).Str("message_id", messageID).Msg("failed to publish wake hint")
					}
					pool.Wake()
				}
			}

			server := api.NewServer(cfg.Server, store, wake, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Dispatch.Workers).
				Str("storage", cfg.Storage.Driver).
				Bool("queue", cfg.Queue.Enabled).
				Msg("courier is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			pool.Stop()

			log.Info().Msg("courier stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func tokenCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage messenger tokens",
	}

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a messenger token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			messengerStr, _ := cmd.Flags().GetString("messenger")
			accessToken, _ := cmd.Flags().GetString("access-token")
			refreshToken, _ := cmd.Flags().GetString("refresh-token")

			if userID == "" || accessToken == "" {
				return fmt.Errorf("--user and --access-token are required")
			}
			messenger, err := models.ParseMessengerType(messengerStr)
			if err != nil {
				return err
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			token := &models.Token{
				ID:           models.NewID("tok"),
				UserID:       userID,
				Messenger:    messenger,
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				Status:       models.TokenActive,
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			if err := store.CreateToken(context.Background(), token); err != nil {
				return fmt.Errorf("failed to register token: %w", err)
			}

			fmt.Printf("registered %s (%s) for user %s\n", token.ID, messenger, userID)
			return nil
		},
	}
	registerCmd.Flags().String("user", "", "user id")
	registerCmd.Flags().String("messenger", "", "messenger type (vk|telegram|max)")
	registerCmd.Flags().String("access-token", "", "provider access token")
	registerCmd.Flags().String("refresh-token", "", "provider refresh token (optional)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's messenger tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			tokens, err := store.ListTokens(context.Background(), userID)
			if err != nil {
				return fmt.Errorf("failed to list tokens: %w", err)
			}

			if len(tokens) == 0 {
				fmt.Println("No tokens found.")
				return nil
			}

			for _, t := range tokens {
				fmt.Printf("  %s  %-8s  %-7s  (created %s)\n", t.ID, t.Messenger, t.Status, t.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	listCmd.Flags().String("user", "", "user id")

	revokeCmd := &cobra.Command{
		Use:   "revoke <token_id>",
		Short: "Revoke a messenger token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: courier token revoke <token_id>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.UpdateTokenStatus(context.Background(), args[0], models.TokenRevoked); err != nil {
				return fmt.Errorf("failed to revoke token: %w", err)
			}

			fmt.Printf("revoked %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(registerCmd, listCmd, revokeCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("courier v%s\n", version)
		},
	}
}

func buildRegistry(cfg *config.Config) *provider.Registry {
	timeout := cfg.Dispatch.SendTimeout
	return provider.NewRegistry(
		provider.NewTelegramAdapter(cfg.Providers.Telegram.BaseURL, timeout),
		provider.NewVKAdapter(cfg.Providers.VK.BaseURL, cfg.Providers.VK.APIVersion, timeout),
		provider.NewMaxAdapter(cfg.Providers.Max.BaseURL, timeout),
	)
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
