// Package main provides the BarLink relay server binary: WebSocket chat rooms,
// image uploads and the supporting HTTP endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cory-johannsen/barlink/internal/chat/hub"
	"github.com/cory-johannsen/barlink/internal/chat/upload"
	"github.com/cory-johannsen/barlink/internal/config"
	"github.com/cory-johannsen/barlink/internal/httpapi"
	"github.com/cory-johannsen/barlink/internal/observability"
	"github.com/cory-johannsen/barlink/internal/server"
	"github.com/cory-johannsen/barlink/internal/storage/blob"
	"github.com/cory-johannsen/barlink/internal/storage/postgres"
	"github.com/cory-johannsen/barlink/internal/storage/sqlite"
	"github.com/cory-johannsen/barlink/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = defaults and environment only")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before configuration, if present")
	healthInterval := flag.Duration("db-health", 30*time.Second, "postgres health check interval")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && *envFile != ".env" {
		log.Fatalf("loading env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting barlink",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("upload_backend", cfg.Upload.Backend),
	)

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening blob store", zap.Error(err))
	}
	defer stores.close()

	metrics := observability.NewMetrics()
	h := hub.New(hub.Options{
		Logger:       logger,
		Metrics:      metrics,
		Store:        stores.put,
		TypingExpiry: cfg.Typing.Expiry,
	})
	wsHandler := ws.NewHandler(h, cfg.Transport, logger)
	limiter := httpapi.NewRateLimiter(cfg.Upload.RateLimit, cfg.Upload.RateWindow)

	router := httpapi.NewRouter(httpapi.Deps{
		Hub:        h,
		Metrics:    metrics,
		Logger:     logger,
		WS:         wsHandler,
		WSPath:     cfg.Transport.Path,
		Blobs:      stores.serve,
		PublicPath: cfg.Upload.PublicPath,
		Limiter:    limiter,
		MaxBytes:   cfg.Upload.MaxBytes,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	lifecycle.Add("http", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", httpServer.Addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", httpServer.Addr, err)
			}
			logger.Info("http listening", zap.String("addr", lis.Addr().String()))
			if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: httpServer.Shutdown,
	})
	// Stopped before http: hijacked WebSocket connections are not tracked by Shutdown.
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		StopFn: wsHandler.Close,
	})
	lifecycle.Add("upload-limiter", tickerService(cfg.Upload.RateWindow, limiter.Prune))

	if stores.pg != nil {
		pg := stores.pg
		lifecycle.Add("postgres-health", tickerService(*healthInterval, func() {
			if err := pg.Health(ctx, 5*time.Second); err != nil {
				logger.Warn("postgres health check failed", zap.Error(err))
			}
		}))
	}

	logger.Info("barlink ready", zap.Duration("startup", time.Since(start)))
	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("barlink exited with error", zap.Error(err))
	}
}

// tickerService runs fn every interval until stopped.
func tickerService(interval time.Duration, fn func()) server.Service {
	return &server.FuncService{
		StartFn: func(ctx context.Context) error {
			if interval <= 0 {
				<-ctx.Done()
				return nil
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					fn()
				}
			}
		},
	}
}

// blobStores is the configured upload backend seen from its two sides.
type blobStores struct {
	put   upload.BlobStore
	serve http.Handler
	pg    *postgres.Store
	close func()
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (blobStores, error) {
	switch cfg.Upload.Backend {
	case config.BackendSQLite:
		s, err := sqlite.NewStore(cfg.Upload.SQLitePath, cfg.Upload.PublicPath)
		if err != nil {
			return blobStores{}, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return blobStores{}, err
		}
		logger.Info("sqlite blob store opened", zap.String("path", cfg.Upload.SQLitePath))
		return blobStores{
			put:   s,
			serve: httpapi.OpenerBlobs(s, logger),
			close: func() { _ = s.Close() },
		}, nil

	case config.BackendPostgres:
		dbStart := time.Now()
		if err := postgres.MigrateUp(cfg.Database.DSN()); err != nil {
			return blobStores{}, err
		}
		s, err := postgres.Connect(ctx, cfg.Database, cfg.Upload.PublicPath)
		if err != nil {
			return blobStores{}, err
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		return blobStores{
			put:   s,
			serve: httpapi.OpenerBlobs(s, logger),
			pg:    s,
			close: s.Close,
		}, nil

	default:
		s, err := blob.NewDiskStore(cfg.Upload.Dir, cfg.Upload.PublicPath)
		if err != nil {
			return blobStores{}, err
		}
		logger.Info("disk blob store opened", zap.String("dir", s.Dir()))
		return blobStores{
			put:   s,
			serve: httpapi.FileBlobs(s.Dir()),
			close: func() {},
		}, nil
	}
}
