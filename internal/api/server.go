// Package api exposes the field notes workspace over HTTP. A client opens a
// session, drives the map through click/drag/confirm calls and renders the
// GeoJSON scene the session reports back.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/metrics"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/workspace"
)

// Operator identity headers set by the auth proxy.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserEmail = "X-User-Email"
)

const defaultMaxPhotoBytes = 20 << 20

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	MaxPhotoBytes  int64
	Health         Pinger
}

// Server serves the workspace API.
type Server struct {
	sessions *workspace.Manager
	tiles    http.Handler
	metrics  *metrics.Collector
	opts     Options
}

// New creates a Server. tiles may be nil to disable the tile proxy.
func New(sessions *workspace.Manager, tiles http.Handler, m *metrics.Collector, opts Options) *Server {
	if opts.MaxPhotoBytes <= 0 {
		opts.MaxPhotoBytes = defaultMaxPhotoBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{sessions: sessions, tiles: tiles, metrics: m, opts: opts}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderUserID, HeaderUserName, HeaderUserEmail},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	if s.tiles != nil {
		r.Method(http.MethodGet, "/tiles/*", http.StripPrefix("/tiles", s.tiles))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Use(requireOperator)
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.withSession(s.handleView))
			r.Delete("/", s.handleCloseSession)
			r.Get("/scene", s.withSession(s.handleScene))
			r.Post("/locate", s.withSession(s.handleLocate))
			r.Post("/reload", s.withSession(s.handleReload))
			r.Post("/project", s.withSession(s.handleProject))
			r.Post("/overlay", s.withSession(s.handleOverlay))
			r.Post("/base-layer", s.withSession(s.handleBaseLayer))
			r.Post("/click", s.withSession(s.handleClick))
			r.Post("/drag", s.withSession(s.handleDrag))
			r.Post("/confirm", s.withSession(s.handleConfirm))
			r.Post("/cancel", s.withSession(s.handleCancel))
			r.Post("/photos", s.withSession(s.handleUploadPhotos))
			r.Delete("/photos/{index}", s.withSession(s.handleRemovePhoto))
			r.Post("/save", s.withSession(s.handleSave))
		})
	})
	return r
}

type operatorKey struct{}

// requireOperator reads the operator from the auth proxy headers.
func requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := model.Operator{
			ID:          r.Header.Get(HeaderUserID),
			DisplayName: r.Header.Get(HeaderUserName),
			Email:       r.Header.Get(HeaderUserEmail),
		}
		if op.ID == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + HeaderUserID, Code: "not_authenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, op)))
	})
}

func operatorFrom(ctx context.Context) model.Operator {
	op, _ := ctx.Value(operatorKey{}).(model.Operator)
	return op
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *workspace.Session)

// withSession resolves {id} to the caller's session.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(chi.URLParam(r, "id"), operatorFrom(r.Context()))
		if err != nil {
			writeError(w, r, err, http.StatusInternalServerError)
			return
		}
		h(w, r, sess)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
