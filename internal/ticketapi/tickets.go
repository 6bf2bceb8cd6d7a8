package ticketapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/casewise/internal/ticket"
)

const maxListLimit = 500

type listResponse struct {
	Tickets []*ticket.Ticket `json:"tickets"`
	Count   int              `json:"count"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var in ticket.NewTicket
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	t, err := a.tickets.Create(r.Context(), in)
	if err != nil {
		a.ticketError(w, r, err, "failed to create ticket")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ticket.ListFilter{Status: ticket.Status(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		f.Limit = n
	}

	ts, err := a.tickets.List(r.Context(), f)
	if err != nil {
		a.ticketError(w, r, err, "failed to list tickets")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Tickets: ts, Count: len(ts)})
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("casewise.ticket.id", id))

	t, err := a.tickets.Get(r.Context(), id)
	if err != nil {
		a.ticketError(w, r, err, "failed to get ticket")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("casewise.ticket.id", id))

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	t, err := a.tickets.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		a.ticketError(w, r, err, "failed to update ticket")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleAnalyzeTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("casewise.ticket.id", id))

	start := time.Now()
	t, err := a.tickets.Analyze(ctx, id)
	dur := time.Since(start)

	if err != nil {
		if !errors.Is(err, ticket.ErrNotFound) {
			a.requests.Record(ctx, "ticket "+id, "", false, dur)
		}
		a.ticketError(w, r, err, "failed to analyze ticket")
		return
	}
	a.requests.Record(ctx, t.Text(), t.AccountID, true, dur)
	writeJSON(w, http.StatusOK, t)
}

// ticketError maps service errors to HTTP responses.
func (a *API) ticketError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		writeError(w, http.StatusNotFound, "ticket not found")
	case errors.Is(err, ticket.ErrInvalidTicket), errors.Is(err, ticket.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg, "ticket_id", chi.URLParam(r, "id"))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
