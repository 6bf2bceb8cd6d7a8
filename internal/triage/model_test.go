package triage

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMerge_TraceAccumulates(t *testing.T) {
	t.Parallel()

	s := NewState("text")
	s = Merge(s, Update{Trace: []string{"a"}})
	s = Merge(s, Update{Trace: []string{"b", "c"}})
	s = Merge(s, Update{})

	if diff := cmp.Diff([]string{"a", "b", "c"}, s.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_LastWriteWins(t *testing.T) {
	t.Parallel()

	s := NewState("text")
	s = Merge(s, Update{Diagnosis: ptr("first"), LogEntries: []string{"x"}})
	s = Merge(s, Update{Diagnosis: ptr("second")})

	if s.Diagnosis != "second" {
		t.Errorf("diagnosis = %q, want second", s.Diagnosis)
	}
	if diff := cmp.Diff([]string{"x"}, s.LogEntries); diff != "" {
		t.Errorf("untouched field changed (-want +got):\n%s", diff)
	}

	s = Merge(s, Update{LogEntries: []string{}})
	if s.LogEntries == nil || len(s.LogEntries) != 0 {
		t.Errorf("explicit empty update should clear: %#v", s.LogEntries)
	}
}

func TestMerge_EmptyAccountDoesNotClear(t *testing.T) {
	t.Parallel()

	s := Merge(NewState("text"), Update{AccountID: ptr("m_123")})
	s = Merge(s, Update{AccountID: ptr("")})

	if s.AccountID != "m_123" {
		t.Errorf("account = %q, want m_123", s.AccountID)
	}
}

func TestMerge_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	base := Merge(NewState("text"), Update{Trace: []string{"a"}})
	left := Merge(base, Update{Trace: []string{"left"}})
	right := Merge(base, Update{Trace: []string{"right"}})

	if left.Trace[1] != "left" || right.Trace[1] != "right" {
		t.Errorf("merges share backing storage: left=%v right=%v", left.Trace, right.Trace)
	}
	if len(base.Trace) != 1 {
		t.Errorf("base trace modified: %v", base.Trace)
	}
}

func TestMerge_ClampsConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{7, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		got := Merge(NewState(""), Update{Confidence: ptr(tt.in)}).Confidence
		if got != tt.want {
			t.Errorf("confidence %v -> %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestState_JSONShape(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(NewState("hello"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := got["account_id"]; ok {
		t.Error("absent account_id should be omitted")
	}
	for _, key := range []string{"log_entries", "kb_articles", "trace"} {
		if v, ok := got[key].([]any); !ok || len(v) != 0 {
			t.Errorf("%s = %#v, want []", key, got[key])
		}
	}
	if _, ok := got["confidence_score"]; !ok {
		t.Error("missing confidence_score")
	}
}
