// Package api is the REST surface around the messaging core: history,
// notifications, unread markers, group files and the directory helpers used
// by collaborator subsystems.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"huddle/internal/auth"
	"huddle/internal/database"
	"huddle/internal/logging"
	"huddle/internal/validation"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

// Authenticator validates bearer tokens.
type Authenticator interface {
	Authenticate(token string) (userID string, err error)
}

// Directory manages users and group rosters.
type Directory interface {
	CreateUser(ctx context.Context, userID, name string) (*types.User, error)
	CreateGroup(ctx context.Context, groupID, name, createdBy string, members []string) (*types.Group, error)
	GetGroup(ctx context.Context, groupID string) (*types.Group, error)
	IsMember(ctx context.Context, groupID, userID string) error
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}

// Presence reports who is online.
type Presence interface {
	IsOnline(userID string) bool
	Stats() map[string]int
}

// Subscriptions drops live room subscriptions after roster changes.
type Subscriptions interface {
	DropUserFromRoom(userID, roomKey string) int
}

// Deps are the server's collaborators.
type Deps struct {
	Auth          Authenticator
	Router        interfaces.MessageRouter
	Directory     Directory
	Store         interfaces.Store
	Presence      Presence
	Subscriptions Subscriptions
	WebSocket     http.Handler
}

// Config configures the REST surface.
type Config struct {
	CORSOrigins        []string
	RateLimitPerMinute int
	FilesDir           string
	MaxUploadBytes     int64
	PublicPrefix       string
}

// Server routes REST requests.
type Server struct {
	deps   Deps
	config Config
	router chi.Router
	logger zerolog.Logger
}

// NewServer creates the server and mounts every route.
func NewServer(deps Deps, cfg Config) *Server {
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = "/files"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	s := &Server{
		deps:   deps,
		config: cfg,
		router: chi.NewRouter(),
		logger: logging.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))

	r.Get("/health", s.healthCheck)
	r.Handle("/metrics", promhttp.Handler())
	if s.deps.WebSocket != nil {
		r.Handle("/ws", s.deps.WebSocket)
	}

	r.Group(func(r chi.Router) {
		if s.config.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.config.RateLimitPerMinute, time.Minute))
		}
		r.Use(s.authenticate)

		r.Get("/private-messages/{userId}", s.privateHistory)

		r.Post("/users", s.createUser)
		r.Post("/groups", s.createGroup)
		r.Route("/groups/{groupId}", func(r chi.Router) {
			r.Get("/", s.getGroup)
			r.Get("/messages", s.groupHistory)
			r.Post("/files", s.uploadFile)
			r.Post("/members", s.addMember)
			r.Delete("/members/{userId}", s.removeMember)
		})
		r.Get(s.config.PublicPrefix+"/{name}", s.serveFile)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.listNotifications)
			r.Post("/", s.createNotification)
			r.Put("/read-all", s.markAllNotificationsRead)
			r.Put("/{id}/read", s.markNotificationRead)
			r.Delete("/{id}", s.deleteNotification)
		})

		r.Get("/unread", s.unreadCounts)
		r.Put("/unread/groups/{groupId}", s.markGroupRead)
		r.Put("/unread/private/{userId}", s.markPrivateRead)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
	}
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
		logging.Ctx(r.Context()).Error().Err(err).Msg("Database health check failed")
	}
	if s.deps.Presence != nil {
		resp.Connections = s.deps.Presence.Stats()
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, resp)
}

// authenticate requires a valid bearer token and stores the caller in the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.deps.Auth.Authenticate(auth.TokenFromRequest(r))
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		ctx := logging.ContextWithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request through zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.ContextWithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			return
		}
		logging.Ctx(ctx).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func caller(r *http.Request) string {
	return logging.UserIDFromContext(r.Context())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.sendError(w, r, errInvalidJSON)
		return false
	}
	if err := validation.Struct(dst); err != nil {
		s.sendError(w, r, err)
		return false
	}
	return true
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// sendError maps err onto a status code and a client-safe message.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	message := types.AckFor(err).Message
	if errors.Is(err, database.ErrAlreadyExists) {
		message = "already exists"
	}
	if code >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, database.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrPersistenceTimeout), errors.Is(err, types.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// pageParams reads ?limit= and ?before=. Missing values are zero.
func pageParams(r *http.Request) (limit int, before int64, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, errInvalidLimit
		}
	}
	if v := q.Get("before"); v != "" {
		if before, err = strconv.ParseInt(v, 10, 64); err != nil || before < 0 {
			return 0, 0, errInvalidBefore
		}
	}
	return limit, before, nil
}
