// Package main is the entry point for the canvas engine API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nodecanvas-ai/canvas-engine/internal/brand"
	"github.com/nodecanvas-ai/canvas-engine/internal/config"
	"github.com/nodecanvas-ai/canvas-engine/internal/engine"
	"github.com/nodecanvas-ai/canvas-engine/internal/events"
	"github.com/nodecanvas-ai/canvas-engine/internal/graph"
	"github.com/nodecanvas-ai/canvas-engine/internal/handler"
	"github.com/nodecanvas-ai/canvas-engine/internal/middleware"
	natsclient "github.com/nodecanvas-ai/canvas-engine/internal/nats"
	"github.com/nodecanvas-ai/canvas-engine/internal/provider"
	"github.com/nodecanvas-ai/canvas-engine/internal/thread"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
	"github.com/nodecanvas-ai/canvas-engine/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting canvas engine")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "canvas-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS when configured; node events are only broadcast
	// in-process otherwise.
	var natsConn *natsclient.Client
	var streamManager *natsclient.StreamManager
	if cfg.NATSURL != "" {
		natsConn, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsConn.Close()

		streamManager = natsclient.NewStreamManager(natsConn)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
	}

	providers, err := buildProviders(cfg, log)
	if err != nil {
		log.Error("failed to configure providers", zap.Error(err))
		os.Exit(1)
	}

	broker := events.NewBroker()
	emitter := events.Multi{broker}
	if streamManager != nil {
		emitter = append(emitter, events.NewJetStream(streamManager, log))
	}

	canvas := graph.New()
	threads := thread.NewStore(log)
	brandStore := brand.NewStore(cfg.BrandVoice)
	eng := engine.New(canvas, threads, providers, brandStore, emitter, log)

	healthHandler := handler.NewHealthHandler(natsConn)
	graphHandler := handler.NewGraphHandler(eng, log)
	threadHandler := handler.NewThreadHandler(threads, log)
	brandHandler := handler.NewBrandHandler(brandStore, log)
	streamHandler := handler.NewStreamHandler(eng, broker, streamManager, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", graphHandler.CreateNode)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", graphHandler.GetNode)
				r.Delete("/", graphHandler.DeleteNode)
				r.Post("/run", graphHandler.RunNode)
				r.Get("/output", streamHandler.Stream)
			})
		})

		r.Route("/edges", func(r chi.Router) {
			r.Get("/", graphHandler.ListEdges)
			r.Post("/", graphHandler.ProposeEdge)
			r.Delete("/{id}", graphHandler.DeleteEdge)
		})

		r.Route("/threads", func(r chi.Router) {
			r.Delete("/", threadHandler.ClearAll)
			r.Get("/current", threadHandler.Current)
			r.Get("/{id}", threadHandler.Get)
			r.Delete("/{id}", threadHandler.Reset)
		})

		r.Get("/brand-voice", brandHandler.Get)
		r.Put("/brand-voice", brandHandler.Set)

		r.Delete("/canvas", graphHandler.ResetCanvas)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// buildProviders assembles the provider registry from configured vendors.
func buildProviders(cfg *config.Config, log *logger.Logger) (*provider.Registry, error) {
	var clients []provider.Client

	switch {
	case cfg.DefaultTextLLM == "anthropic" && cfg.AnthropicAPIKey != "":
		c, err := provider.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	case cfg.OpenAIAPIKey != "":
		c, err := provider.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	default:
		log.Warn("no text provider configured, text generation disabled")
	}

	if cfg.OpenAIAPIKey != "" {
		c, err := provider.NewOpenAIImageClient(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}

	if cfg.VideoEndpoint != "" {
		c, err := provider.NewVideoClient(provider.VideoConfig{
			Endpoint:     cfg.VideoEndpoint,
			APIKey:       cfg.VideoAPIKey,
			Model:        cfg.VideoModel,
			PollInterval: cfg.VideoPollInterval,
			MaxPolls:     cfg.VideoMaxPolls,
		})
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}

	return provider.NewRegistry(clients...), nil
}
