package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/casewise/internal/ticket"
	"github.com/linnemanlabs/casewise/internal/triage"
)

func newTicket(id string, created time.Time, status ticket.Status) *ticket.Ticket {
	return &ticket.Ticket{
		ID:          id,
		Title:       "Checkout broken",
		Description: "403 on every call",
		Email:       "ops@example.com",
		AccountID:   "m_ecom_004",
		Status:      status,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	in := newTicket("t1", time.Now(), ticket.StatusOpen)

	if err := s.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Get(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Title != in.Title || got.AccountID != in.AccountID {
		t.Errorf("got %+v", got)
	}

	// mutation of the returned copy must not leak into the store
	got.Title = "changed"
	again, _, _ := s.Get(ctx, "t1")
	if again.Title != in.Title {
		t.Error("Get returned a shared pointer")
	}
}

func TestCreate_Duplicate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, newTicket("t1", time.Now(), ticket.StatusOpen))
	if err := s.Create(ctx, newTicket("t1", time.Now(), ticket.StatusOpen)); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()

	_, ok, err := New().Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned ok=true for missing ticket")
	}
}

func TestList_OrderFilterLimit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.Create(ctx, newTicket("a", base, ticket.StatusOpen))
	_ = s.Create(ctx, newTicket("b", base.Add(time.Hour), ticket.StatusClosed))
	_ = s.Create(ctx, newTicket("c", base.Add(2*time.Hour), ticket.StatusOpen))

	all, err := s.List(ctx, ticket.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("order = %v", ids(all))
	}

	open, _ := s.List(ctx, ticket.ListFilter{Status: ticket.StatusOpen})
	if len(open) != 2 || open[0].ID != "c" || open[1].ID != "a" {
		t.Errorf("open = %v", ids(open))
	}

	limited, _ := s.List(ctx, ticket.ListFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Errorf("limited = %v", ids(limited))
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, newTicket("t1", time.Now(), ticket.StatusOpen))

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	got, ok, err := s.UpdateStatus(ctx, "t1", ticket.StatusResolved, at)
	if err != nil || !ok {
		t.Fatalf("UpdateStatus: ok=%v err=%v", ok, err)
	}
	if got.Status != ticket.StatusResolved || !got.UpdatedAt.Equal(at) {
		t.Errorf("got %+v", got)
	}

	if _, ok, _ := s.UpdateStatus(ctx, "missing", ticket.StatusClosed, at); ok {
		t.Error("UpdateStatus on missing ticket returned ok=true")
	}
}

func TestSaveAnalysis(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, newTicket("t1", time.Now(), ticket.StatusOpen))

	st := triage.NewState("text")
	st.Diagnosis = "expired key"
	st.Trace = append(st.Trace, "Analysis complete")
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	ok, err := s.SaveAnalysis(ctx, "t1", &st, at)
	if err != nil || !ok {
		t.Fatalf("SaveAnalysis: ok=%v err=%v", ok, err)
	}

	// caller mutations after save must not reach the store
	st.Trace[0] = "mutated"

	got, _, _ := s.Get(ctx, "t1")
	if got.Analysis == nil || got.Analysis.Diagnosis != "expired key" {
		t.Fatalf("analysis = %+v", got.Analysis)
	}
	if got.Analysis.Trace[0] != "Analysis complete" {
		t.Errorf("stored trace aliased caller slice: %v", got.Analysis.Trace)
	}
	if got.AnalyzedAt == nil || !got.AnalyzedAt.Equal(at) {
		t.Errorf("analyzed_at = %v", got.AnalyzedAt)
	}

	if ok, _ := s.SaveAnalysis(ctx, "missing", &st, at); ok {
		t.Error("SaveAnalysis on missing ticket returned ok=true")
	}
}

func ids(ts []*ticket.Ticket) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}
