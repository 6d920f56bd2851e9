// InstantPreview Server
//
// Features:
// - Prometheus metrics & structured logging (zap)
// - File tree and slot editing with debounced persistence
// - Explicit and auto-refresh preview runs
// - Sandboxed preview origin behind signed links
// - SSE change notifications
// - Multi-backend storage (local, SQLite, S3) with optional PostgreSQL sync
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/api"
	"github.com/instantpreview/instantpreview/internal/auth"
	"github.com/instantpreview/instantpreview/internal/config"
	"github.com/instantpreview/instantpreview/internal/editor"
	"github.com/instantpreview/instantpreview/internal/events"
	"github.com/instantpreview/instantpreview/internal/executor"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metadata/postgres"
	"github.com/instantpreview/instantpreview/internal/metrics"
	"github.com/instantpreview/instantpreview/internal/preview"
	"github.com/instantpreview/instantpreview/internal/quota"
	"github.com/instantpreview/instantpreview/internal/storage"
	"github.com/instantpreview/instantpreview/internal/storage/local"
	"github.com/instantpreview/instantpreview/internal/workspace"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("InstantPreview Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("preview", cfg.PreviewAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	rawStorage, err := json.Marshal(cfg.StorageConfig())
	if err != nil {
		logging.Fatal("encode storage config", zap.Error(err))
	}
	backend, err := storage.NewBackendFromConfig(ctx, cfg.StorageBackend, rawStorage)
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err), zap.String("backend", cfg.StorageBackend))
	}
	defer backend.Close()
	store := workspace.NewStore(backend, cfg.Workspace)
	logging.Info("storage initialized",
		zap.String("backend", backend.Type()),
		zap.String("workspace", cfg.Workspace))

	placeholder := executor.NewPlaceholder(cfg.ExecutorLatency)
	var recorder editor.ExecutionRecorder

	// Initialize PostgreSQL (optional)
	var metaStore *postgres.Store
	if cfg.DatabaseURL != "" {
		logging.Info("connecting to PostgreSQL...")
		metaStore, err = postgres.New(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		defer metaStore.Close()

		if dir := findMigrationsDir(); dir != "" {
			logging.Info("running migrations...", zap.String("dir", dir))
			if err := metaStore.Migrate(dir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}

		templates, err := metaStore.ListSimulators(ctx)
		if err != nil {
			logging.Warn("load simulator templates failed", zap.Error(err))
		} else if len(templates) > 0 {
			placeholder.SetTemplates(templates)
			logging.Info("simulator templates loaded", zap.Int("count", len(templates)))
		}
	}

	var projectID string
	if metaStore != nil {
		projectID, err = metaStore.EnsureProject(ctx, cfg.ProjectName)
		if err != nil {
			logging.Fatal("ensure project failed", zap.Error(err), zap.String("project", cfg.ProjectName))
		}
		recorder = metaStore.ExecutionLog(projectID)
	}

	// Initialize preview pipeline
	surface := preview.NewMemorySurface()
	runner := preview.NewRunner(surface,
		preview.WithExecutor(placeholder),
		preview.WithExecTimeout(cfg.ExecutorTimeout),
		preview.WithAutoRefresh(cfg.AutoRefresh),
	)

	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	session, err := editor.New(ctx, store, runner, editor.Options{
		Debounce: cfg.Debounce,
		Events:   broadcaster,
		Executor: placeholder,
		Recorder: recorder,
		Surface:  surface,
	})
	if err != nil {
		logging.Fatal("editor session init failed", zap.Error(err))
	}
	logging.Info("editor session ready", zap.Int("nodes", len(session.Tree())))

	if metaStore != nil {
		syncer := postgres.NewSyncer(metaStore, projectID, session.Tree, cfg.SyncInterval)
		go syncer.Run(ctx)

		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metaStore.UpdateConnectionMetrics()
				}
			}
		}()
	}

	// Pick up edits made to the workspace files outside the server
	if lb, ok := storage.Unwrap(backend).(*local.Backend); ok && cfg.WatchStorage {
		err := store.Watch(ctx, lb.Root(), cfg.Debounce, func() {
			if err := session.Reload(ctx); err != nil {
				logging.Error("reload after external change failed", zap.Error(err))
			}
		})
		if err != nil {
			logging.Warn("workspace watch disabled", zap.Error(err))
		}
	}

	tokens, err := auth.NewPreviewTokens(cfg.PreviewTokenSecret, cfg.PreviewTokenTTL)
	if err != nil {
		logging.Fatal("preview token init failed", zap.Error(err))
	}
	if cfg.PreviewTokenSecret == "" {
		logging.Warn("PREVIEW_TOKEN_SECRET not set, preview links will not survive a restart")
	}

	rateLimiter := quota.NewRateLimiter()
	srv := api.NewServer(cfg, session, surface, tokens, rateLimiter, broadcaster)
	srv.StartCleanup(ctx, time.Hour)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) servers
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	previewServer := &http.Server{
		Addr:              cfg.PreviewAddr,
		Handler:           srv.PreviewHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
		previewServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	}

	go func() {
		logging.Info("preview server listening", zap.String("addr", cfg.PreviewAddr))
		var err error
		if useTLS {
			err = previewServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = previewServer.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			logging.Error("preview server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := session.Close(shutdownCtx); err != nil {
			logging.Error("close editor session", zap.Error(err))
		}
		cancel()
		httpServer.Shutdown(shutdownCtx)
		previewServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
		"../../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
