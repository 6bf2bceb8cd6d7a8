package ticket

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// Service is the business boundary for ticket operations.
type Service struct {
	store    Store
	analyzer Analyzer
	accounts []string
	notifier Notifier
	logger   log.Logger
	now      func() time.Time

	// tracks in-flight notifications
	wg sync.WaitGroup
}

// NewService creates a ticket service. accounts is the pool a new ticket's
// account is assigned from when the submitter does not name one. notifier
// may be nil.
func NewService(store Store, analyzer Analyzer, accounts []string, logger log.Logger, notifier Notifier) *Service {
	if store == nil {
		panic(xerrors.New("ticket.NewService: nil store"))
	}
	if analyzer == nil {
		panic(xerrors.New("ticket.NewService: nil analyzer"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		analyzer: analyzer,
		accounts: append([]string(nil), accounts...),
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates and stores a new open ticket.
func (s *Service) Create(ctx context.Context, in NewTicket) (*Ticket, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &Ticket{
		ID:          ulid.Make().String(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Email:       strings.TrimSpace(in.Email),
		AccountID:   strings.TrimSpace(in.AccountID),
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.AccountID == "" {
		t.AccountID = AssignAccount(t.Email, s.accounts)
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	s.logger.Info(ctx, "ticket created", "ticket_id", t.ID, "account_id", t.AccountID)
	return t, nil
}

// Get returns a ticket or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Ticket, error) {
	t, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns tickets newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Ticket, error) {
	if f.Status != "" {
		st, err := ParseStatus(string(f.Status))
		if err != nil {
			return nil, err
		}
		f.Status = st
	}
	ts, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return ts, nil
}

// UpdateStatus moves a ticket to status.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Ticket, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	t, ok, err := s.store.UpdateStatus(ctx, id, st, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	s.logger.Info(ctx, "ticket status updated", "ticket_id", id, "status", st)
	return t, nil
}

// Analyze runs triage on a stored ticket, saves the result on the ticket and
// sends a notification in the background. The ticket's account is passed to
// the pipeline as the supplied identifier.
func (s *Service) Analyze(ctx context.Context, id string) (*Ticket, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	st, err := s.analyzer.Analyze(ctx, t.Text(), t.AccountID)
	if err != nil {
		return nil, fmt.Errorf("analyze ticket: %w", err)
	}

	at := s.now().UTC()
	ok, err := s.store.SaveAnalysis(ctx, id, st, at)
	if err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	t.Analysis = st
	t.AnalyzedAt = &at

	s.logger.Info(ctx, "ticket analyzed",
		"ticket_id", id,
		"account_id", st.AccountID,
		"confidence", st.Confidence,
	)

	if s.notifier != nil {
		cp := *t
		s.wg.Add(1)
		go s.notify(context.WithoutCancel(ctx), &cp)
	}
	return t, nil
}

// Wait blocks until background notifications have finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) notify(ctx context.Context, t *Ticket) {
	defer s.wg.Done()
	if err := s.notifier.Send(ctx, t); err != nil {
		s.logger.Error(ctx, err, "ticket notification failed", "ticket_id", t.ID)
	}
}

// AssignAccount picks an account for email from accounts. The same email
// always maps to the same account; "" when accounts is empty.
func AssignAccount(email string, accounts []string) string {
	if len(accounts) == 0 {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return accounts[h.Sum32()%uint32(len(accounts))] //nolint:gosec // len is small and positive
}
