package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nstogner/companion/pkg/config"
	"github.com/nstogner/companion/pkg/controller"
	"github.com/nstogner/companion/pkg/domain"
	"github.com/nstogner/companion/pkg/model"
	"github.com/nstogner/companion/pkg/model/gemini"
	"github.com/nstogner/companion/pkg/model/ollama"
	"github.com/nstogner/companion/pkg/persona"
	"github.com/nstogner/companion/pkg/runtime"
	"github.com/nstogner/companion/pkg/runtime/docker"
	"github.com/nstogner/companion/pkg/server"
	"github.com/nstogner/companion/pkg/store/sqlite"
	"github.com/nstogner/companion/pkg/todo"
	"github.com/nstogner/companion/pkg/watch"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the feedback server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			setupLogger(cfg.Debug)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("config", "", "path to a TOML config file (or COMPANION_CONFIG)")
	return cmd
}

// newBackend creates the inference backend named by cfg.Backend.
func newBackend(ctx context.Context, cfg *config.Config) (model.Backend, error) {
	switch cfg.Backend {
	case config.BackendGemini:
		return gemini.New(ctx, cfg.GeminiAPIKey)
	default:
		return ollama.New(cfg.OllamaURL), nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Initialize history store.
	if err := os.MkdirAll(filepath.Dir(cfg.HistoryDB), 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	history, err := sqlite.New(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("initializing history store: %w", err)
	}
	defer history.Close()

	// Initialize inference backend.
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing %s backend: %w", cfg.Backend, err)
	}
	gateway := model.NewGateway(backend,
		domain.Selection{Vision: cfg.VisionModel, Reasoning: cfg.ReasoningModel},
		cfg.RequestTimeout)
	if gateway.CheckConnectivity(ctx) {
		slog.Info("Inference backend reachable", "backend", backend.Name(), "models", gateway.ListInstalled(ctx))
	} else {
		slog.Warn("Inference backend unreachable, starting degraded", "backend", backend.Name())
	}

	// Load personas, todos and model profiles.
	personas := persona.NewStore()
	personas.Load(cfg.PersonasFile)
	todos := todo.NewStore()
	todos.Load(cfg.TodoFile)
	profiles := model.NewProfiles()
	profiles.Load(cfg.ProfilesFile)

	ctrl := controller.New(controller.Options{
		WindowSize: cfg.WindowSize,
		Threshold:  cfg.Threshold,
		Personas:   personas,
		Todos:      todos,
		Inference:  gateway,
		History:    history,
	})

	// Optional runtime container monitor.
	var monitor runtime.Monitor
	if cfg.RuntimeContainer != "" {
		m, err := docker.New()
		if err != nil {
			slog.Warn("Docker unavailable, runtime status disabled", "error", err)
		} else {
			defer m.Close()
			monitor = m
		}
	}

	// Optional hot reload of data files.
	if cfg.WatchFiles {
		w, err := watch.New(watch.DefaultDebounce)
		if err != nil {
			return err
		}
		defer w.Close()
		for path, reload := range map[string]func(){
			cfg.PersonasFile: func() { personas.Load(cfg.PersonasFile) },
			cfg.TodoFile:     func() { todos.Load(cfg.TodoFile) },
			cfg.ProfilesFile: func() { profiles.Load(cfg.ProfilesFile) },
		} {
			if err := w.Add(path, reload); err != nil {
				slog.Warn("Not watching file", "path", path, "error", err)
			}
		}
		go func() {
			if err := w.Start(ctx); err != nil {
				slog.Error("File watcher stopped", "error", err)
			}
		}()
	}

	srv := server.New(server.Options{
		APIKey:           cfg.APIKey,
		Controller:       ctrl,
		Gateway:          gateway,
		Profiles:         profiles,
		History:          history,
		Runtime:          monitor,
		RuntimeContainer: cfg.RuntimeContainer,
		PersonasFile:     cfg.PersonasFile,
		TodoFile:         cfg.TodoFile,
		MaxUploadBytes:   cfg.MaxUploadBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLS() {
			errCh <- srv.StartTLS(cfg.Addr(), cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			errCh <- srv.Start(cfg.Addr())
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
