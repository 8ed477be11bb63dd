// Package httpapi exposes the auction engine over JSON HTTP. Identity is
// taken from the x-user-id and x-user-email headers injected by the
// authentication layer upstream; the API never parses cookies.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/gavel/internal/admission"
	"github.com/jensholdgaard/gavel/internal/authz"
	"github.com/jensholdgaard/gavel/internal/config"
	"github.com/jensholdgaard/gavel/internal/domain"
	"github.com/jensholdgaard/gavel/internal/engine"
	"github.com/jensholdgaard/gavel/internal/fanout"
	"github.com/jensholdgaard/gavel/internal/store"
)

// sessionDelimiter joins auctionID and teamID in captain session ids. It is
// fixed to '_' because entity ids are UUIDs and may contain '-'.
const sessionDelimiter = "_"

type ctxKey int

const identityKey ctxKey = 0

// Server is the HTTP boundary over the engine and the admission pipeline.
type Server struct {
	engine    *engine.Engine
	admission *admission.Service
	resolver  *authz.Resolver
	broker    *fanout.Broker
	repos     *store.Repositories
	logger    *slog.Logger
	validate  *validator.Validate
	cfg       config.ServerConfig
}

// NewServer creates the Server.
func NewServer(eng *engine.Engine, adm *admission.Service, resolver *authz.Resolver, broker *fanout.Broker, repos *store.Repositories, logger *slog.Logger, cfg config.ServerConfig) *Server {
	return &Server{
		engine:    eng,
		admission: adm,
		resolver:  resolver,
		broker:    broker,
		repos:     repos,
		logger:    logger,
		validate:  validator.New(),
		cfg:       cfg,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "x-user-id", "x-user-email"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Post("/auctions", s.createAuction)
		r.Route("/auctions/{auctionID}", func(r chi.Router) {
			r.Get("/", s.getAuction)
			r.Post("/teams", s.addTeams)
			r.Post("/players", s.addPlayers)
			r.Put("/tiers", s.putTiers)
			r.Post("/lobby", s.openLobby)
			r.Post("/start", s.startAuction)
			r.Post("/end", s.endAuction)
			r.Post("/action", s.settle)
			r.Post("/round", s.forceOpenRound)
			r.Delete("/round", s.forceCloseRound)
			r.Post("/outcry/raise", s.outcryRaise)
			r.Get("/outcry/state", s.outcryState)
			r.Get("/events", s.streamEvents)
		})
		r.Route("/captain/{sessionID}", func(r chi.Router) {
			r.Get("/", s.captainDashboard)
			r.Post("/bid", s.captainBid)
		})
	})

	return r
}

// requireIdentity extracts the upstream identity headers, rejecting requests
// without a user id.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := authz.Identity{
			UserID: r.Header.Get("x-user-id"),
			Email:  r.Header.Get("x-user-email"),
		}
		if id.UserID == "" {
			s.writeError(w, r, domain.E(domain.KindAuthentication, "MISSING_IDENTITY", "x-user-id header is required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func identityFrom(ctx context.Context) authz.Identity {
	id, _ := ctx.Value(identityKey).(authz.Identity)
	return id
}

// recoverer reports panics to Sentry and answers 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.CurrentHub().RecoverWithContext(r.Context(), rec)
				s.logger.ErrorContext(r.Context(), "panic in handler",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
				)
				s.writeError(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// decode reads and validates a JSON body. Unknown fields are rejected.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Ef(domain.KindValidation, "MALFORMED_BODY", "invalid request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]any, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return domain.E(domain.KindValidation, "INVALID_FIELDS", "request failed validation").
				WithDetails(fields)
		}
		return domain.Ef(domain.KindValidation, "INVALID_FIELDS", "request failed validation: %v", err)
	}
	return nil
}

// parseSession splits a captain session id into auction and team ids.
func parseSession(sessionID string) (auctionID, teamID string, err error) {
	auctionID, teamID, ok := strings.Cut(sessionID, sessionDelimiter)
	if !ok || auctionID == "" || teamID == "" {
		return "", "", domain.E(domain.KindValidation, "INVALID_SESSION",
			"session id must be auctionID_teamID")
	}
	return auctionID, teamID, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Error("encoding response", slog.Any("error", err))
		}
	}
}

// writeError maps the error taxonomy onto the HTTP status contract and
// flattens structured details into the body for client guidance.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{
		"code":    "INTERNAL",
		"message": "unexpected error",
	}

	if de, ok := domain.AsError(err); ok {
		body["code"] = de.Code
		body["message"] = de.Message
		for k, v := range de.Details {
			body[k] = v
		}
		switch de.Kind {
		case domain.KindValidation, domain.KindPrecondition, domain.KindBudget:
			status = http.StatusBadRequest
		case domain.KindAuthentication:
			status = http.StatusUnauthorized
		case domain.KindAuthorization:
			status = http.StatusForbidden
		case domain.KindNotFound:
			status = http.StatusNotFound
		case domain.KindStaleBid:
			status = http.StatusConflict
		}
	} else if errors.Is(err, store.ErrVersionConflict) {
		status = http.StatusConflict
		body["code"] = "CONCURRENT_UPDATE"
		body["message"] = "auction state changed concurrently, retry"
	}

	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
			body["trace_id"] = sc.TraceID().String()
		}
		sentry.CaptureException(err)
	}

	s.writeJSON(w, status, body)
}
