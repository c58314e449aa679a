package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"betledger/observability"
	"betledger/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// RequesterHeader carries the acting user's id, set by the upstream gateway
const RequesterHeader = "X-User-ID"

// Services groups the operations exposed over HTTP
type Services struct {
	Lifecycle  service.BetLifecycleService
	Staking    service.StakingService
	Settlement service.SettlementService
	Points     service.PointsService
	Members    service.MembershipService
}

// Server is the HTTP adapter in front of the bet core
type Server struct {
	services Services
	metrics  *observability.Metrics
	health   observability.HealthFunc
}

// NewServer creates the adapter. metrics and health may be nil.
func NewServer(services Services, metrics *observability.Metrics, health observability.HealthFunc) *Server {
	return &Server{services: services, metrics: metrics, health: health}
}

// Router builds the chi route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.getHealth)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.createUser)
		r.Get("/{userID}/balance", s.getBalance)
		r.Get("/{userID}/history", s.getHistory)
		r.Get("/{userID}/bets", s.listUserBets)
	})

	r.Route("/groups/{groupID}", func(r chi.Router) {
		r.Get("/members", s.listMembers)
		r.Post("/members", s.addMember)
		r.Get("/bets", s.listGroupBets)
		r.With(requireRequester).Post("/bets", s.createBet)
	})

	r.Route("/bets/{betID}", func(r chi.Router) {
		r.Get("/", s.getBet)
		r.Get("/results", s.getResults)
		r.Get("/stats", s.getStats)

		r.Group(func(r chi.Router) {
			r.Use(requireRequester)
			r.Patch("/", s.editBet)
			r.Delete("/", s.deleteBet)
			r.Post("/lock", s.lockBet)
			r.Post("/stakes", s.placeBet)
			r.Post("/resolve", s.resolveBet)
		})
	})

	r.Get("/payouts/unsettled", s.listUnsettled)

	return r
}

// NewHTTPServer wraps the router in a server with the usual timeouts
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs each request and records its latency by route pattern
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(route, strconv.Itoa(status), elapsed)

		entry := log.WithFields(log.Fields{
			"method":    r.Method,
			"route":     route,
			"status":    status,
			"duration":  elapsed.String(),
			"requestID": middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("HTTP request failed")
		} else {
			entry.Debug("HTTP request")
		}
	})
}
