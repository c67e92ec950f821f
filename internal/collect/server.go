package collect

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wethinkt/go-proctail/internal/config"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// Server is the collector HTTP server.
type Server struct {
	config    CollectorConfig
	log       OpLog
	registry  *ProcessRegistry
	pubsub    *ProcessPubSub
	tickets   *TicketStore
	router    chi.Router
	startedAt time.Time

	// ingestMu orders appends with their publication, so a WebSocket
	// backfill and the live messages after it never overlap or leave a gap.
	ingestMu sync.Mutex
}

// NewServer creates a collector server with an in-memory op log.
func NewServer(cfg CollectorConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.RetainDone == 0 {
		cfg.RetainDone = DefaultRetainDone
	}

	s := &Server{
		config:    cfg,
		log:       NewMemoryOpLog(),
		registry:  NewProcessRegistry(),
		pubsub:    NewProcessPubSub(),
		tickets:   NewTicketStore(),
		startedAt: time.Now(),
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler of the collector.
func (s *Server) Handler() http.Handler { return s.router }

// setupRouter configures the collector HTTP routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	if !s.config.Quiet {
		r.Use(middleware.Logger)
	}

	if s.config.Token != "" {
		tuilog.Log.Info("Collector authentication enabled")
		r.Use(bearerAuth(s.config.Token))
	} else {
		tuilog.Log.Warn("Collector running without authentication - use --token to secure")
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/collector/stats", s.handleStats)
		r.Post("/ws/ticket", s.handleIssueTicket)

		r.Route("/processes", func(r chi.Router) {
			r.Post("/", s.handleRegister)
			r.Get("/", s.handleList)
			r.Route("/{processID}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Post("/patches", s.handlePatches)
				r.Post("/finish", s.handleFinish)
				r.Get("/ws", s.handleProcessWS)
			})
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ListenAndServe starts the collector server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.config.Port != 0 {
		if existing := config.FindInstanceByPort(s.config.Port); existing != nil {
			return fmt.Errorf("port %d is already in use by proctail %s (PID %d, started %s)",
				s.config.Port, existing.Type, existing.PID, existing.StartedAt.Format(time.RFC3339))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	// Update port if auto-assigned
	if s.config.Port == 0 {
		s.config.Port = ln.Addr().(*net.TCPAddr).Port
	}

	inst := config.Instance{
		Type:      config.InstanceCollector,
		PID:       os.Getpid(),
		Port:      s.config.Port,
		Host:      s.config.Host,
		StartedAt: time.Now(),
	}
	if err := config.RegisterInstance(inst); err != nil {
		tuilog.Log.Warn("Failed to register collector instance", "error", err)
	}

	go s.cleanFinished(ctx)
	go s.tickets.runCleanup(ctx, time.Minute)

	go func() {
		<-ctx.Done()
		config.UnregisterInstance(os.Getpid())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.log.Close()
	}()

	if !s.config.Quiet {
		fmt.Printf("Collector running at %s\n", s.URL())
	}
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the server address string.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// URL returns the base URL viewers connect to.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// cleanFinished periodically forgets processes that finished long ago.
func (s *Server) cleanFinished(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeFinished(ctx)
		}
	}
}

func (s *Server) purgeFinished(ctx context.Context) {
	removed := s.registry.CleanFinished(s.config.RetainDone)
	for _, id := range removed {
		if err := s.log.Delete(ctx, id); err != nil {
			tuilog.Log.Warn("Failed to delete op log", "process_id", id, "error", err)
		}
	}
	if len(removed) > 0 {
		tuilog.Log.Info("Cleaned finished processes", "removed", len(removed))
	}
}

// bearerAuth returns middleware that validates a bearer token using
// constant-time comparison to prevent timing attacks.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health checks are public; ticketed WebSocket upgrades are
			// authorized by the handler.
			if r.URL.Path == "/v1/health" ||
				(strings.HasSuffix(r.URL.Path, "/ws") && r.URL.Query().Get("ticket") != "") {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="proctail-collector"`)
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if len(auth) < len(prefix) || auth[:len(prefix)] != prefix {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format")
				return
			}

			if subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers for cross-origin requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, err string, msg string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: msg})
}
