// Package ticketapi exposes ticket triage over HTTP.
package ticketapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/casewise/internal/authmw"
	"github.com/linnemanlabs/casewise/internal/reqlog"
	"github.com/linnemanlabs/casewise/internal/ticket"
	"github.com/linnemanlabs/casewise/internal/triage"
)

// DefaultServiceName is reported by the health and stats endpoints.
const DefaultServiceName = "casewise"

// Analyzer runs the triage pipeline on free text.
type Analyzer interface {
	Analyze(ctx context.Context, ticketText, accountID string) (*triage.State, error)
}

// TicketService defines the ticket operations the API needs.
type TicketService interface {
	Create(ctx context.Context, in ticket.NewTicket) (*ticket.Ticket, error)
	Get(ctx context.Context, id string) (*ticket.Ticket, error)
	List(ctx context.Context, f ticket.ListFilter) ([]*ticket.Ticket, error)
	UpdateStatus(ctx context.Context, id, status string) (*ticket.Ticket, error)
	Analyze(ctx context.Context, id string) (*ticket.Ticket, error)
}

// Options configure optional API behavior.
type Options struct {
	// ServiceName defaults to DefaultServiceName.
	ServiceName string
	// Limiter throttles analysis requests. nil means unlimited.
	Limiter *rate.Limiter
	// APIToken, when set, is required as a bearer token on every route
	// except health.
	APIToken string
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	analyzer Analyzer
	tickets  TicketService
	requests *reqlog.Log
	opts     Options
}

// New creates a new API handler. tickets may be nil, in which case the
// ticket routes are not registered.
func New(logger log.Logger, analyzer Analyzer, tickets TicketService, requests *reqlog.Log, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if analyzer == nil {
		panic(xerrors.New("analyzer is required"))
	}
	if requests == nil {
		requests = reqlog.New(reqlog.DefaultSize, logger)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	return &API{
		logger:   logger,
		analyzer: analyzer,
		tickets:  tickets,
		requests: requests,
		opts:     opts,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerToken(a.opts.APIToken))

			r.With(a.limit).Post("/analyze", a.handleAnalyze)
			r.Get("/stats", a.handleStats)
			r.Get("/history", a.handleHistory)
			r.Delete("/history", a.handleClearHistory)

			if a.tickets == nil {
				return
			}
			r.Route("/tickets", func(r chi.Router) {
				r.Post("/", a.handleCreateTicket)
				r.Get("/", a.handleListTickets)
				r.Get("/{id}", a.handleGetTicket)
				r.Patch("/{id}", a.handleUpdateTicket)
				r.With(a.limit).Post("/{id}/analyze", a.handleAnalyzeTicket)
			})
		})
	})
}

// limit rejects requests once the analysis limiter is exhausted.
func (a *API) limit(next http.Handler) http.Handler {
	if a.opts.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.opts.Limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry shortly")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
