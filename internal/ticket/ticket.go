// Package ticket stores customer support tickets and runs triage on them.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/casewise/internal/triage"
)

// Status is the workflow state of a ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var (
	// ErrNotFound is returned when no ticket has the requested ID.
	ErrNotFound = errors.New("ticket not found")
	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("invalid ticket status")
	// ErrInvalidTicket is returned when a new ticket is missing required fields.
	ErrInvalidTicket = errors.New("invalid ticket")
)

// ParseStatus validates s against the known statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Ticket is a support request submitted by a merchant.
type Ticket struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Email       string        `json:"email"`
	AccountID   string        `json:"account_id"`
	Status      Status        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Analysis    *triage.State `json:"analysis,omitempty"`
	AnalyzedAt  *time.Time    `json:"analyzed_at,omitempty"`
}

// Text renders the ticket as the free text handed to the triage pipeline.
func (t *Ticket) Text() string {
	return fmt.Sprintf("%s\n\n%s\n\nSubmitted by: %s", t.Title, t.Description, t.Email)
}

// Clone returns a deep copy of t.
func (t *Ticket) Clone() *Ticket {
	cp := *t
	if t.Analysis != nil {
		st := *t.Analysis
		st.LogEntries = append([]string{}, st.LogEntries...)
		st.KBArticles = append([]string{}, st.KBArticles...)
		st.Trace = append([]string{}, st.Trace...)
		cp.Analysis = &st
	}
	if t.AnalyzedAt != nil {
		at := *t.AnalyzedAt
		cp.AnalyzedAt = &at
	}
	return &cp
}

// NewTicket is the input for creating a ticket.
type NewTicket struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Email       string `json:"email"`
	AccountID   string `json:"account_id,omitempty"`
}

// Validate checks required fields.
func (n NewTicket) Validate() error {
	var errs []error
	if strings.TrimSpace(n.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if strings.TrimSpace(n.Description) == "" {
		errs = append(errs, errors.New("description is required"))
	}
	if !strings.Contains(n.Email, "@") {
		errs = append(errs, errors.New("email is invalid"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}
	return nil
}

// ListFilter narrows List results. The zero value lists everything.
type ListFilter struct {
	Status Status
	Limit  int
}

// Store is the persistence interface for tickets. Get and UpdateStatus
// report a missing ticket with ok=false rather than an error.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, bool, error)
	List(ctx context.Context, f ListFilter) ([]*Ticket, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (*Ticket, bool, error)
	SaveAnalysis(ctx context.Context, id string, st *triage.State, at time.Time) (bool, error)
}

// Analyzer runs triage on free text.
type Analyzer interface {
	Analyze(ctx context.Context, ticketText, accountID string) (*triage.State, error)
}

// Notifier is told about each completed ticket analysis.
type Notifier interface {
	Send(ctx context.Context, t *Ticket) error
}
