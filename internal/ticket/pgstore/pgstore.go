// Package pgstore provides a PostgreSQL implementation of ticket.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/casewise/internal/ticket"
	"github.com/linnemanlabs/casewise/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/casewise/internal/ticket/pgstore")

//go:embed schema.sql
var schema string

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists tickets in PostgreSQL.
type Store struct {
	db DB
}

// New applies the schema and returns a ready Store. The caller owns db.
func New(ctx context.Context, db DB) (*Store, error) {
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

const ticketColumns = `id, title, description, email, account_id, status,
	created_at, updated_at, analysis, analyzed_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
		attribute.String("db.collection.name", "tickets"),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Create inserts a new ticket.
func (s *Store) Create(ctx context.Context, t *ticket.Ticket) error {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer span.End()

	analysis, err := marshalAnalysis(t.Analysis)
	if err != nil {
		return fail(span, err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO tickets (`+ticketColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Title, t.Description, t.Email, t.AccountID, string(t.Status),
		t.CreatedAt, t.UpdatedAt, analysis, t.AnalyzedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert ticket: %w", err))
	}
	return nil
}

// Get retrieves a ticket by ID.
func (s *Store) Get(ctx context.Context, id string) (*ticket.Ticket, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	t, err := scanTicket(s.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return t, t != nil, nil
}

// List returns tickets newest first.
func (s *Store) List(ctx context.Context, f ticket.ListFilter) ([]*ticket.Ticket, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query tickets: %w", err))
	}
	defer rows.Close()

	out := []*ticket.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate tickets: %w", err))
	}

	span.SetAttributes(attribute.Int("casewise.tickets.count", len(out)))
	return out, nil
}

// UpdateStatus sets a ticket's status and returns the updated row.
func (s *Store) UpdateStatus(ctx context.Context, id string, status ticket.Status, at time.Time) (*ticket.Ticket, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.UpdateStatus", "UPDATE")
	defer span.End()

	t, err := scanTicket(s.db.QueryRow(ctx,
		`UPDATE tickets SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+ticketColumns,
		id, string(status), at,
	))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return t, t != nil, nil
}

// SaveAnalysis stores the latest analysis of a ticket.
func (s *Store) SaveAnalysis(ctx context.Context, id string, st *triage.State, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.SaveAnalysis", "UPDATE")
	defer span.End()

	analysis, err := marshalAnalysis(st)
	if err != nil {
		return false, fail(span, err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE tickets SET analysis = $2, analyzed_at = $3, updated_at = $3 WHERE id = $1`,
		id, analysis, at,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("save analysis: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

func marshalAnalysis(st *triage.State) ([]byte, error) {
	if st == nil {
		return nil, nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}
	return b, nil
}

// scanTicket scans one row. Returns (nil, nil) when no row is found.
func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var (
		t          ticket.Ticket
		status     string
		analysis   []byte
		analyzedAt *time.Time
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Email, &t.AccountID, &status,
		&t.CreatedAt, &t.UpdatedAt, &analysis, &analyzedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ticket: %w", err)
	}

	t.Status = ticket.Status(status)
	t.AnalyzedAt = analyzedAt
	if len(analysis) > 0 {
		var st triage.State
		if err := json.Unmarshal(analysis, &st); err != nil {
			return nil, fmt.Errorf("unmarshal analysis %s: %w", t.ID, err)
		}
		t.Analysis = &st
	}
	return &t, nil
}
