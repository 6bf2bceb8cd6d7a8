package triage

import (
	"context"
	"errors"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// ErrEmptyTicket is returned when the ticket text is blank.
var ErrEmptyTicket = errors.New("ticket_text is required")

// Service is the business boundary for triage operations.
type Service struct {
	engine *Engine
	logger log.Logger
}

// NewService creates a new triage service.
func NewService(engine *Engine, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		engine: engine,
		logger: logger,
	}
}

// Analyze runs the pipeline for one ticket. The only error is ErrEmptyTicket;
// everything downstream of input validation resolves to a State.
func (s *Service) Analyze(ctx context.Context, ticketText, accountID string) (*State, error) {
	if strings.TrimSpace(ticketText) == "" {
		return nil, ErrEmptyTicket
	}

	st := s.engine.Run(ctx, ticketText, accountID)

	s.logger.Info(ctx, "ticket analyzed",
		"account_id", st.AccountID,
		"confidence", st.Confidence,
		"trace_lines", len(st.Trace),
	)
	return st, nil
}
