// Package proxy implements the thin stateless HTTP proxy fronting the
// federation engine. It translates inbound HTTP requests to library calls
// against internal/federation, internal/discovery, and internal/admin, and
// carries none of its own protocol state.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klppl/fedid/internal/admin"
	"github.com/klppl/fedid/internal/config"
	"github.com/klppl/fedid/internal/discovery"
	"github.com/klppl/fedid/internal/federation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	activityJSONType = `application/activity+json`
	version          = "1.0.0"
)

// maxConcurrentActivities is the total inbox concurrency cap. Activities
// arriving beyond this limit receive a 503 response.
const maxConcurrentActivities = 50

// Server is the HTTP surface of a fedid instance.
type Server struct {
	cfg        *config.Config
	engine     *federation.Engine
	discovery  *discovery.Resolver
	admin      *admin.Admin
	router     *chi.Mux
	inboxSem   chan struct{}
	originLim  *originLimiter
	startedAt  time.Time
}

// New builds a Server wired to the given components.
func New(cfg *config.Config, engine *federation.Engine, resolver *discovery.Resolver, adm *admin.Admin) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    engine,
		discovery: resolver,
		admin:     adm,
		inboxSem:  make(chan struct{}, maxConcurrentActivities),
		originLim: newOriginLimiter(),
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting HTTP proxy", "addr", s.cfg.ListenAddr, "domain", s.cfg.Domain)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("proxy shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("proxy error", "error", err)
	}
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/api/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/.well-known/webfinger", s.handleWebFinger)
	r.Get("/.well-known/host-meta", s.handleHostMeta)
	r.Get("/.well-known/nodeinfo", s.handleNodeInfoDiscovery)
	r.Get("/nodeinfo/{version}", s.handleNodeInfoSchema)

	r.Get("/users/{username}", s.handleActor)
	r.Get("/users/{username}/followers", s.handleFollowers)
	r.Get("/users/{username}/following", s.handleFollowing)
	r.Get("/users/{username}/outbox", s.handleOutbox)
	r.Get("/users/{username}/collections/featured", s.handleFeatured)
	r.Get("/users/{username}/objects/{id}", s.handleObject)
	r.Get("/users/{username}/objects/{id}/activity", s.handleActivity)
	r.Post("/users/{username}/inbox", s.handleInbox)
	r.Post("/inbox", s.handleInbox)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("fedid — an ActivityPub federation engine\nrunning on " + s.cfg.Domain + "\n"))
	})

	if s.cfg.WebAdminPassword != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/api/status", s.handleAdminStatus)
			r.Get("/api/blocks", s.handleAdminListBlocks)
			r.Post("/api/blocks", s.handleAdminBlockDomain)
			r.Delete("/api/blocks", s.handleAdminUnblockDomain)
			r.Get("/api/search", s.handleAdminSearch)
			r.Get("/api/timeline", s.handleAdminTimeline)
			r.Get("/api/audit-log", s.handleAdminAuditLog)
			r.Get("/api/deliveries", s.handleAdminDeliveryStats)
			r.Get("/api/log/stream", s.handleAdminLogStream)
		})
	}

	return r
}

// originLimiter hands out a token-bucket rate.Limiter per origin hostname,
// replacing a hand-rolled mutex-protected concurrency counter: each origin
// gets its own bucket, lazily created on first sight.
type originLimiter struct {
	limiters sync.Map // origin -> *rate.Limiter
}

func newOriginLimiter() *originLimiter {
	return &originLimiter{}
}

// inboxRatePerOrigin and inboxBurstPerOrigin bound how fast one remote
// origin can push activities into the inbox before its requests are
// rejected with 429, independent of the other origins' traffic.
const (
	inboxRatePerOrigin  = 10 // activities/sec, sustained
	inboxBurstPerOrigin = 20
)

func (l *originLimiter) allow(origin string) bool {
	v, _ := l.limiters.LoadOrStore(origin, rate.NewLimiter(rate.Limit(inboxRatePerOrigin), inboxBurstPerOrigin))
	return v.(*rate.Limiter).Allow()
}
