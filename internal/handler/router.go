package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campusdesk/helpdesk/internal/chat"
	"github.com/campusdesk/helpdesk/internal/middleware"
	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/service"
	"github.com/campusdesk/helpdesk/pkg/logger"
)

// Services is everything the HTTP layer runs on.
type Services struct {
	Tokens        *service.Tokens
	Auth          *service.AuthService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Problems      *service.ProblemService
	Dashboard     *service.DashboardService
	Users         *service.UserService
	Profiles      *service.ProfileService
	Replies       *service.ReplyService

	Feed     realtime.Feed
	Presence realtime.Presence
	// Observer is a tracker that observes the online channel without
	// publishing a record.
	Observer *chat.Tracker

	// Avatars serves stored avatar files under AvatarPath.
	Avatars    http.Handler
	AvatarPath string

	Checks []Check
}

// Options carries the HTTP-level settings.
type Options struct {
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	Chat               ChatOptions
}

// NewRouter builds the API router.
func NewRouter(s Services, opts Options, log *logger.Logger) http.Handler {
	healthHandler := NewHealthHandler(s.Checks...)
	authHandler := NewAuthHandler(s.Auth, log)
	profileHandler := NewProfileHandler(s.Profiles, log)
	presenceHandler := NewPresenceHandler(s.Observer)
	conversationHandler := NewConversationHandler(s.Conversations, s.Messages, s.Feed, log)
	messageHandler := NewMessageHandler(s.Messages, s.Conversations, s.Replies, s.Feed, log)
	problemHandler := NewProblemHandler(s.Problems, s.Feed, log)
	dashboardHandler := NewDashboardHandler(s.Dashboard, s.Feed, log)
	userHandler := NewUserHandler(s.Users, log)
	chatHandler := NewChatHandler(s.Conversations, s.Messages, s.Users, s.Feed, s.Presence, opts.Chat, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	if s.Avatars != nil && s.AvatarPath != "" {
		r.Handle(s.AvatarPath+"/*", s.Avatars)
	}

	r.With(middleware.Auth(s.Tokens)).Get("/ws/chat", chatHandler.Serve)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(opts.RateLimitRequests, opts.RateLimitWindow))
			r.Use(middleware.LimitBody)
			r.Post("/auth/signup", authHandler.SignUp)
			r.Post("/auth/signin", authHandler.SignIn)
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(s.Tokens))
			r.Use(middleware.RateLimit(opts.RateLimitRequests, opts.RateLimitWindow))
			admin := middleware.RequireRole(model.RoleAdmin)
			student := middleware.RequireRole(model.RoleStudent)

			r.Get("/me", authHandler.Me)
			r.With(middleware.LimitBody).Put("/me/password", authHandler.ChangePassword)

			r.Get("/profile", profileHandler.Get)
			r.With(middleware.LimitBody).Put("/profile", profileHandler.Update)
			r.Put("/profile/avatar", profileHandler.UploadAvatar)
			r.Delete("/profile/avatar", profileHandler.RemoveAvatar)

			r.Get("/presence", presenceHandler.Online)

			// Conversations
			r.Route("/conversations", func(r chi.Router) {
				r.With(admin).Get("/", conversationHandler.List)
				r.With(admin).Get("/stream", conversationHandler.Stream)
				r.With(student).Post("/mine", conversationHandler.Mine)
				r.With(student).Get("/mine/unread", conversationHandler.Unread)
				r.With(student).Get("/mine/stream", conversationHandler.StreamMine)

				r.Route("/{id}", func(r chi.Router) {
					r.Use(middleware.ValidateID("id"))
					r.Get("/", conversationHandler.Get)
					r.Post("/read", conversationHandler.Read)

					// Messages
					r.Get("/messages", messageHandler.List)
					r.With(middleware.LimitBody).Post("/messages", messageHandler.Send)

					// Streaming
					r.Get("/stream", messageHandler.Stream)

					r.With(admin).Post("/suggest-reply", messageHandler.SuggestReply)
				})
			})

			// Problems
			r.Route("/problems", func(r chi.Router) {
				r.With(middleware.LimitBody).Post("/", problemHandler.Submit)
				r.Get("/", problemHandler.List)
				r.Get("/stream", problemHandler.Stream)
				r.Get("/categories", problemHandler.Categories)
				r.With(admin, middleware.ValidateID("id"), middleware.LimitBody).Patch("/{id}/status", problemHandler.UpdateStatus)
			})

			// Dashboard
			r.Route("/dashboard", func(r chi.Router) {
				r.Use(admin)
				r.Get("/stats", dashboardHandler.Stats)
				r.Get("/timeline", dashboardHandler.Timeline)
				r.Get("/categories", dashboardHandler.Categories)
				r.Get("/statuses", dashboardHandler.Statuses)
				r.Get("/activity", dashboardHandler.Activity)
				r.Get("/activity/stream", dashboardHandler.ActivityStream)
			})

			r.With(admin).Get("/users", userHandler.List)
		})
	})

	return r
}
