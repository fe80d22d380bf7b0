// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/config"
	"github.com/campusdesk/helpdesk/internal/handler"
	"github.com/campusdesk/helpdesk/internal/llm"
	natsclient "github.com/campusdesk/helpdesk/internal/nats"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/internal/storage"
	"github.com/campusdesk/helpdesk/internal/store"
	"github.com/campusdesk/helpdesk/internal/store/memory"
	"github.com/campusdesk/helpdesk/internal/store/postgres"
	"github.com/campusdesk/helpdesk/pkg/logger"
	"github.com/campusdesk/helpdesk/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "helpdesk", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	var checks []handler.Check

	// Persistence
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return err
		}
		st = pg
		log.Info("using postgres store")
	} else {
		st = memory.New()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer st.Close()
	checks = append(checks, handler.Check{Name: "store", Ping: st.Ping})

	// Change feed and presence
	var (
		feed     realtime.Feed
		presence realtime.Presence
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		changeFeed, err := natsclient.NewChangeFeed(ctx, natsClient, log)
		if err != nil {
			return err
		}
		kvPresence, err := natsclient.NewPresence(ctx, natsClient, cfg.PresenceTTL, log)
		if err != nil {
			return err
		}
		feed, presence = changeFeed, kvPresence
		checks = append(checks, handler.Check{Name: "nats", Ping: natsClient.Ping})
	} else {
		feed, presence = realtime.NewHub(), realtime.NewPresenceHub()
		log.Warn("NATS_URL not set, using in-process change feed and presence")
	}

	// Initialize LLM client
	llmClient, err := llm.FromKeys(llm.Provider(cfg.DefaultLLM), llm.Keys{
		Anthropic: cfg.AnthropicAPIKey,
		OpenAI:    cfg.OpenAIAPIKey,
	})
	if err != nil {
		log.Warn("failed to create LLM client, reply suggestions disabled", zap.Error(err))
		llmClient = nil
	} else if llmClient == nil {
		log.Info("no LLM API key configured, reply suggestions disabled")
	}

	avatars, err := storage.NewLocal(cfg.AvatarDir, cfg.AvatarBaseURL)
	if err != nil {
		return err
	}

	// Initialize services
	tokens := service.NewTokens(cfg.JWTSecret, cfg.JWTExpiration)
	conversationSvc := service.NewConversationService(st, st, feed, log)
	messageSvc := service.NewMessageService(st, conversationSvc, feed, log)

	observer := chat.NewTracker(presence, cfg.PresenceHeartbeat, log)
	if err := observer.Observe(ctx); err != nil {
		return err
	}
	defer observer.Leave()
	go handler.NewPresenceHandler(observer).Run(ctx)

	avatarPath := ""
	if strings.HasPrefix(cfg.AvatarBaseURL, "/") {
		avatarPath = strings.TrimRight(cfg.AvatarBaseURL, "/")
	}

	authSvc := service.NewAuthService(st, tokens, log)
	authSvc.AllowAdminSignUp(cfg.AllowAdminSignup)

	router := handler.NewRouter(handler.Services{
		Tokens:        tokens,
		Auth:          authSvc,
		Conversations: conversationSvc,
		Messages:      messageSvc,
		Problems:      service.NewProblemService(st, st, feed, log),
		Dashboard:     service.NewDashboardService(st, st, st),
		Users:         service.NewUserService(st),
		Profiles:      service.NewProfileService(st, avatars, log),
		Replies:       service.NewReplyService(messageSvc, conversationSvc, llmClient, log),
		Feed:          feed,
		Presence:      presence,
		Observer:      observer,
		Avatars:       avatars.Handler(),
		AvatarPath:    avatarPath,
		Checks:        checks,
	}, handler.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
		Chat: handler.ChatOptions{
			PresenceHeartbeat: cfg.PresenceHeartbeat,
			TypingTimeout:     cfg.TypingTimeout,
		},
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return err
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}
