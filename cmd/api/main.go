// Package main is the entry point for the clinic inbox API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/broadcast"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/config"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/handler"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/llm"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	natsclient "github.com/zeeshangondal/ClinicsDashboard-V9/internal/nats"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/service"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/source"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/store"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/thread"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/metrics"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting inbox server", zap.String("message_source", cfg.MessageSource))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "clinic-inbox", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	st := store.New()
	hub := broadcast.NewHub(log)

	var (
		src          session.MessageSource
		backend      handler.ConnectionChecker
		notifiers    = []session.Option{session.WithNotifier(hub)}
		quickReplies []string
		natsSource   *natsclient.Source
	)

	switch cfg.MessageSource {
	case config.SourceNATS:
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:       cfg.NATSURL,
			CAFile:    cfg.NATSCAFile,
			CertFile:  cfg.NATSCertFile,
			KeyFile:   cfg.NATSKeyFile,
			Token:     cfg.NATSToken,
			CredsFile: cfg.NATSCredsFile,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		natsSource = natsclient.NewSource(natsClient, log)
		if err := natsSource.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}

		src = natsSource
		backend = natsClient
		notifiers = append(notifiers, session.WithNotifier(natsSource))

	default:
		fixture, err := source.LoadFixture(cfg.FixtureFile,
			source.WithLatency(cfg.FixtureLatency),
			source.WithLogger(log))
		if err != nil {
			log.Fatal("failed to load fixture", zap.Error(err))
		}
		if err := fixture.Seed(st); err != nil {
			log.Fatal("failed to seed conversations", zap.Error(err))
		}

		src = fixture
		quickReplies = fixture.QuickReplies()
	}

	threads := thread.New(src, thread.Options{
		ClockSkewTolerance: cfg.ClockSkewTolerance,
		MaxThreads:         cfg.ThreadCacheSize,
		FetchTimeout:       cfg.CollaboratorTimeout,
		OnLoad: func(conversationID string, count int, err error) {
			metrics.RecordThreadLoad(count, err)
		},
	})

	sessions := session.NewManager(st, threads, src, log, session.Config{
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		AssistantName:       cfg.AssistantName,
	}, notifiers...)

	classifier, replier := buildAI(cfg, log)

	conversationSvc := service.NewConversationService(st, log)
	messageSvc := service.NewMessageService(conversationSvc, sessions, classifier, replier, log)

	if natsSource != nil {
		go func() {
			err := natsSource.ConsumeInbound(ctx, func(ctx context.Context, req model.InboundMessageRequest) error {
				_, err := messageSvc.HandleInbound(ctx, req)
				return err
			})
			if err != nil {
				log.Error("inbound consumer stopped", zap.Error(err))
			}
		}()
	}

	router := handler.NewRouter(handler.RouterConfig{
		Sessions:          sessions,
		Inbound:           messageSvc,
		Hub:               hub,
		Backend:           backend,
		QuickReplies:      quickReplies,
		JWTSecret:         cfg.JWTSecret,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Live streams end when their subscriptions close.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// buildAI wires the handoff classifier and the optional AI responder.
func buildAI(cfg *config.Config, log *logger.Logger) (llm.Classifier, service.Replier) {
	keyword := llm.NewKeywordClassifier(cfg.HandoffPhrases...)

	apiKey := cfg.LLMAPIKey()
	if apiKey == "" {
		return keyword, nil
	}

	client, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), apiKey)
	if err != nil {
		log.Warn("failed to create LLM client, AI features disabled", zap.Error(err))
		return keyword, nil
	}

	var classifier llm.Classifier = keyword
	if cfg.HandoffClassifier == config.ClassifierLLM {
		classifier = llm.NewLLMClassifier(client, cfg.LLMModel, keyword, log)
	}

	var replier service.Replier
	if cfg.AIAutoReply {
		replier = llm.NewResponder(client, cfg.LLMModel, cfg.ClinicName)
	}

	log.Info("LLM enabled",
		zap.String("provider", client.Name()),
		zap.String("classifier", cfg.HandoffClassifier),
		zap.Bool("auto_reply", cfg.AIAutoReply))

	return classifier, replier
}
