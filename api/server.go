/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Observe:    zap access log + prometheus latency histogram
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the admin frontend
  6. Timeout:    Request deadline propagated through the context
  7. Actor:      X-Actor-ID / X-Actor-Role headers (api group only)

ROUTE GROUPS:
  /healthz              Store ping
  /metrics              Prometheus
  /api/courses/*        Course lifecycle, progress, renewal
  /api/lectures/*       Attendance, postponement, bulk save
  /api/trainers/*       Trainer directory, payment methods
  /api/payroll/*        Monthly payroll and its bookkeeping
  /api/admin/rules      Business rules
  /api/audit            Audit log

SECURITY NOTE:
  Authentication happens upstream. The actor headers are trusted as given.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/metrics"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(actorMiddleware)

		r.Route("/courses", func(r chi.Router) {
			r.Post("/", h.CreateCourse)
			r.Get("/{id}", h.GetCourse)
			r.Get("/{id}/lectures", h.ListCourseLectures)
			r.Get("/{id}/completion", h.GetCompletion)
			r.Post("/{id}/evaluation", h.ConfirmEvaluation)
			r.Put("/{id}/renewal-alert", h.SetRenewalAlert)
			r.Post("/{id}/renew", h.RenewCourse)
		})

		r.Route("/lectures", func(r chi.Router) {
			r.Post("/generate", h.GenerateLectures)
			r.Post("/bulk", h.BulkSave)
			r.Patch("/{id}", h.UpdateLecture)
			r.Post("/{id}/postpone", h.PostponeLecture)
			r.Delete("/{id}/postponement", h.CancelPostponement)
		})

		r.Route("/trainers", func(r chi.Router) {
			r.Get("/", h.ListTrainers)
			r.Post("/", h.SaveTrainer)
			r.Put("/{id}/payment-method", h.SetPaymentMethod)
		})

		r.Route("/payroll", func(r chi.Router) {
			r.Get("/", h.GetPayroll)
			r.Route("/{trainerID}/{year}/{month}", func(r chi.Router) {
				r.Put("/adjustment", h.SetBonusDeduction)
				r.Put("/options", h.SetBonusOptions)
				r.Post("/paid", h.MarkPaid)
				r.Delete("/paid", h.MarkUnpaid)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/rules", h.GetRules)
			r.Put("/rules", h.PutRules)
		})

		r.Get("/audit", h.QueryAudit)
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// observe logs every request and records its latency.
func observe(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := routePattern(r)
			metrics.ObserveRequest(r.Method, route, status, elapsed)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type actorKey struct{}

// actorMiddleware resolves the calling actor. A missing role means trainer.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := generic.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
		if role == "" {
			role = generic.RoleTrainer
		}
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown actor role "+string(role), nil)
			return
		}
		actor := generic.Actor{ID: strings.TrimSpace(r.Header.Get(HeaderActorID)), Role: role}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) generic.Actor {
	if a, ok := ctx.Value(actorKey{}).(generic.Actor); ok {
		return a
	}
	return generic.Actor{Role: generic.RoleTrainer}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
