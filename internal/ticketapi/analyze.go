package ticketapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/casewise/internal/reqlog"
	"github.com/linnemanlabs/casewise/internal/triage"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 1000
)

// analyzeRequest is the body of POST /analyze. merchant_id is accepted as
// an alias of account_id.
type analyzeRequest struct {
	TicketText string `json:"ticket_text"`
	AccountID  string `json:"account_id"`
	MerchantID string `json:"merchant_id"`
}

func (req analyzeRequest) accountID() string {
	if id := strings.TrimSpace(req.AccountID); id != "" {
		return id
	}
	return strings.TrimSpace(req.MerchantID)
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.TicketText) == "" {
		writeError(w, http.StatusBadRequest, "ticket_text cannot be empty")
		return
	}

	accountID := req.accountID()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("casewise.ticket.length", len(req.TicketText)),
		attribute.Bool("casewise.account.supplied", accountID != ""),
	)

	start := time.Now()
	st, err := a.analyzer.Analyze(ctx, req.TicketText, accountID)
	dur := time.Since(start)

	if errors.Is(err, triage.ErrEmptyTicket) {
		writeError(w, http.StatusBadRequest, "ticket_text cannot be empty")
		return
	}
	if err != nil {
		a.requests.Record(ctx, req.TicketText, accountID, false, dur)
		a.logger.Error(ctx, err, "analysis failed")
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	a.requests.Record(ctx, req.TicketText, st.AccountID, true, dur)

	span.SetAttributes(
		attribute.String("casewise.account.id", st.AccountID),
		attribute.Float64("casewise.confidence", st.Confidence),
	)
	writeJSON(w, http.StatusOK, st)
}

type statsResponse struct {
	Service string `json:"service"`
	reqlog.Stats
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Service: a.opts.ServiceName,
		Stats:   a.requests.Stats(),
	})
}

type historyResponse struct {
	TotalLogged int            `json:"total_logged"`
	Showing     int            `json:"showing"`
	Logs        []reqlog.Entry `json:"logs"`
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	logs := a.requests.Recent(limit)
	writeJSON(w, http.StatusOK, historyResponse{
		TotalLogged: a.requests.Len(),
		Showing:     len(logs),
		Logs:        logs,
	})
}

func (a *API) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	a.requests.Clear()
	a.logger.Info(r.Context(), "request history cleared")
	writeJSON(w, http.StatusOK, map[string]string{"message": "History cleared successfully"})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": a.opts.ServiceName,
	})
}
