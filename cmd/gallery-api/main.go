package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/auth"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/blob"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/config"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/database"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/kv"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/logging"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/metrics"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/prompts"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/server"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/visits"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gallery-api",
		Short: "Prompt gallery backend service",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Record store driver (sqlite, redis)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().String("blob-driver", defaults.GetString("blob.driver"), "Blob store driver (filesystem, oss)")
	cmd.PersistentFlags().String("blob-directory", defaults.GetString("blob.directory"), "Directory for the filesystem blob driver")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotating log file")
	cmd.PersistentFlags().String("admin-secret", "", "Admin secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "blob.driver", "blob-driver")
	bindFlag(cmd, "blob.directory", "blob-directory")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "admin.secret", "admin-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

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

	logger, err := logging.NewLogger(logging.Config{
		Level:      appConfig.Log.Level,
		File:       appConfig.Log.File,
		MaxSizeMB:  appConfig.Log.MaxSizeMB,
		MaxBackups: appConfig.Log.MaxBackups,
		MaxAgeDays: appConfig.Log.MaxAgeDays,
		Compress:   appConfig.Log.Compress,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := openRecordStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, blobDirectory, err := openBlobStore(appConfig)
	if err != nil {
		return err
	}

	authorizer, err := auth.NewAdminAuthorizer(auth.AdminAuthorizerConfig{
		Secret:     appConfig.AdminSecret,
		SecretHash: appConfig.AdminSecretHash,
	})
	if err != nil {
		return err
	}
	if !appConfig.AdminConfigured() {
		logger.Warn("no admin secret configured; admin operations are disabled")
	}

	var collectors *metrics.Metrics
	if appConfig.MetricsEnabled {
		collectors = metrics.New()
	}

	dispatcher := server.NewRealtimeDispatcher()
	serviceConfig := prompts.ServiceConfig{
		Store:        store,
		Blobs:        blobs,
		Authorizer:   authorizer,
		IDProvider:   prompts.NewUUIDProvider(),
		Clock:        time.Now,
		StoreTimeout: appConfig.StoreTimeout,
		Notifier:     dispatcher,
		Logger:       logger,
	}
	counterConfig := visits.CounterConfig{
		Store:        store,
		StoreTimeout: appConfig.StoreTimeout,
		Logger:       logger,
	}
	if collectors != nil {
		dispatcher.WithObserver(collectors)
		serviceConfig.Recorder = collectors
		counterConfig.Observer = collectors
	}

	promptService, err := prompts.NewService(serviceConfig)
	if err != nil {
		return err
	}
	visitCounter, err := visits.NewCounter(counterConfig)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Prompts:       promptService,
		Visits:        visitCounter,
		Realtime:      dispatcher,
		Metrics:       collectors,
		Heartbeat:     appConfig.RealtimeHeartbeat,
		BlobDirectory: blobDirectory,
		BlobServePath: appConfig.BlobServePath,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store_driver", appConfig.StoreDriver),
			zap.String("blob_driver", appConfig.BlobDriver))
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

func openRecordStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (kv.Store, func(), error) {
	switch appConfig.StoreDriver {
	case config.StoreDriverRedis:
		pingCtx, cancel := context.WithTimeout(ctx, appConfig.StoreTimeout)
		defer cancel()
		client, err := database.OpenRedis(pingCtx, database.RedisOptions{
			Address:  appConfig.Redis.Address,
			Password: appConfig.Redis.Password,
			DB:       appConfig.Redis.DB,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := kv.NewRedisStore(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		store, err := kv.NewSQLStore(db, time.Now)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return store, func() { _ = sqlDB.Close() }, nil
	}
}

// openBlobStore returns the configured blob store and, for the filesystem
// driver, the directory the HTTP layer should serve.
func openBlobStore(appConfig config.AppConfig) (blob.Store, string, error) {
	switch appConfig.BlobDriver {
	case config.BlobDriverOSS:
		store, err := blob.NewOSSStore(blob.OSSConfig{
			Endpoint:        appConfig.OSS.Endpoint,
			AccessKeyID:     appConfig.OSS.AccessKeyID,
			AccessKeySecret: appConfig.OSS.AccessKeySecret,
			Bucket:          appConfig.OSS.Bucket,
			PublicBaseURL:   appConfig.BlobPublicBaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	default:
		publicBaseURL := appConfig.BlobPublicBaseURL
		if publicBaseURL == "" {
			publicBaseURL = appConfig.BlobServePath
		}
		store, err := blob.NewFilesystemStore(appConfig.BlobDirectory, publicBaseURL)
		if err != nil {
			return nil, "", err
		}
		return store, store.Root(), nil
	}
}
