package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Impulsible/book-collection-api/internal/auth"
	"github.com/Impulsible/book-collection-api/internal/catalog"
	"github.com/Impulsible/book-collection-api/internal/config"
	"github.com/Impulsible/book-collection-api/internal/database"
	"github.com/Impulsible/book-collection-api/internal/identity"
	"github.com/Impulsible/book-collection-api/internal/logging"
	"github.com/Impulsible/book-collection-api/internal/server"
	"github.com/Impulsible/book-collection-api/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "book-collection-api",
		Short: "Library catalog API server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("base-url", defaults.GetString("http.base_url"), "Public base URL used to derive the OAuth callback")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("session.redis_addr"), "Redis address for the session store (empty uses in-memory)")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session TTL in minutes")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.base_url", "base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "session.redis_addr", "redis-addr")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	identityStore, err := identity.NewGormStore(db)
	if err != nil {
		return err
	}
	resolver, err := identity.NewResolver(identity.ResolverConfig{
		Store:  identityStore,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	codec, err := session.NewCodec(session.CodecConfig{
		Identities: identityStore,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sessions, err := newSessionStore(appConfig, logger)
	if err != nil {
		return err
	}

	provider := auth.NewGoogleProvider(auth.GoogleProviderConfig{
		ClientID:     appConfig.GoogleClientID,
		ClientSecret: appConfig.GoogleClientSecret,
		CallbackURL:  appConfig.CallbackURL(),
		Logger:       logger,
	})
	if !provider.Enabled() {
		logger.Warn("google oauth credentials absent, login disabled")
	}

	states := auth.NewStateIssuer(auth.StateIssuerConfig{
		SigningSecret: []byte(appConfig.StateSecret),
	})

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Provider: provider,
		Resolver: resolver,
		Codec:    codec,
		Sessions: sessions,
		States:   states,
		Catalog:  catalogService,
		Logger:   logger,
		Options: server.Options{
			CookieName:      appConfig.SessionCookieName,
			SessionTTL:      appConfig.SessionTTL,
			SecureCookies:   appConfig.SecureCookies,
			TestToken:       appConfig.TestToken,
			SuccessRedirect: appConfig.SuccessRedirect,
			FailureRedirect: appConfig.FailureRedirect,
		},
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newSessionStore(appConfig config.AppConfig, logger *zap.Logger) (session.Store, error) {
	if appConfig.RedisAddr == "" {
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(nil), nil
	}
	client := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddr})
	logger.Info("using redis session store", zap.String("addr", appConfig.RedisAddr))
	return session.NewRedisStore(client)
}
