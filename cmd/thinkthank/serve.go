package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Abhijagtp/ThinkThank/internal/app"
	"github.com/Abhijagtp/ThinkThank/internal/config"
	"github.com/Abhijagtp/ThinkThank/internal/export"
	"github.com/Abhijagtp/ThinkThank/internal/gitrepo"
	"github.com/Abhijagtp/ThinkThank/internal/notes"
	"github.com/Abhijagtp/ThinkThank/internal/search"
	"github.com/Abhijagtp/ThinkThank/internal/session"
	"github.com/Abhijagtp/ThinkThank/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides THINKTHANK_ADDR)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local dashboard API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg config.Config) error {
	deps := app.Deps{Checks: map[string]app.Check{}}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for dashboard sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Checks["redis"] = redisStore.Ping
	} else {
		log.Printf("Using in-memory dashboard sessions")
	}

	var noteStore *store.PostgresStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir)); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		noteStore = store.NewPostgresStore(db)
		deps.Checks["database"] = noteStore.Ping
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		deps.Checks["meilisearch"] = func(context.Context) error {
			if !meiliClient.Healthy() {
				return errors.New("meilisearch unhealthy")
			}
			return nil
		}
	}
	var pgfts search.Searcher
	if noteStore != nil {
		pgfts = search.NewPgFTS(noteStore)
	}
	deps.Search = search.NewService(meiliClient, pgfts)

	if err := os.MkdirAll(cfg.NotesVaultDir, 0o755); err != nil {
		return fmt.Errorf("failed to create notes vault dir: %w", err)
	}
	mirrors := &notes.Mirrors{
		Index:   deps.Search,
		Vault:   gitrepo.New(cfg.NotesVaultDir),
		Timeout: 15 * time.Second,
	}
	if noteStore != nil {
		mirrors.Store = noteStore
	}
	deps.Mirror = mirrors

	var archive export.Archive
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := export.NewObjectStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return fmt.Errorf("object storage setup failed: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: export archive unavailable: %v", err)
		} else {
			archive = objects
		}
	}
	deps.Exporter = export.NewService(nil, archive)

	service := app.New(cfg, deps)
	defer service.Close()

	stopSync, err := service.StartNotesSync(ctx)
	if err != nil {
		return err
	}
	defer stopSync()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("ThinkThank dashboard API listening on %s (backend %s)", cfg.Addr, cfg.BackendURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}
