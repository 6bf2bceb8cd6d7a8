package triage

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/linnemanlabs/go-core/log"
)

// countingStore records how often it is consulted.
type countingStore struct {
	lookups int
}

func (c *countingStore) Lookup(context.Context, string) ([]string, error) {
	c.lookups++
	return []string{"line"}, nil
}

func TestLogRetriever_AbsentIDSkipsStore(t *testing.T) {
	t.Parallel()

	store := &countingStore{}
	r := &logRetriever{records: store, logger: log.Nop()}
	u := r.retrieve(context.Background(), "")

	if store.lookups != 0 {
		t.Errorf("store consulted %d times, want 0", store.lookups)
	}
	if u.LogEntries == nil || len(u.LogEntries) != 0 {
		t.Errorf("entries = %#v, want empty", u.LogEntries)
	}
	if diff := cmp.Diff([]string{"Skipping log lookup (no merchant ID)"}, u.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestLogRetriever_Seeded(t *testing.T) {
	t.Parallel()

	r := &logRetriever{records: seededStore(t), logger: log.Nop()}

	tests := []struct {
		name     string
		id       string
		entries  int
		detected string
	}{
		{"exact with 403", "m_123", 4, "Detected errors: 403 Forbidden"},
		{"prefix rule with ssl", "101", 3, "Detected errors: SSL Certificate Issue"},
		{"suffix rule", "m_004", 4, ""},
		{"miss", "m_999", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u := r.retrieve(context.Background(), tt.id)

			if len(u.LogEntries) != tt.entries {
				t.Errorf("entries = %d, want %d", len(u.LogEntries), tt.entries)
			}
			if tt.entries == 0 && !hasTrace(u.Trace, "No logs found for merchant "+tt.id) {
				t.Errorf("missing no-logs trace: %v", u.Trace)
			}
			if tt.detected != "" && !hasTrace(u.Trace, tt.detected) {
				t.Errorf("trace = %v, want %q", u.Trace, tt.detected)
			}
			if tt.detected == "" && hasTrace(u.Trace, "Detected errors") {
				t.Errorf("unexpected classification: %v", u.Trace)
			}
		})
	}
}

func TestClassifyLines(t *testing.T) {
	t.Parallel()

	lines := []string{
		"ERROR: 403 and 500 in one line",
		"WARN: invalid json body",
		"ERROR: 500 internal",
		"INFO: ssl handshake ok",
		"ERROR: 429 slow down",
		"INFO: 404 not found",
		"ERROR: 403 again",
	}
	want := []string{"403 Forbidden", "JSON Parsing Error", "500 Server Error", "SSL Certificate Issue", "429 Rate Limited"}
	if diff := cmp.Diff(want, classifyLines(lines)); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchTerms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		logs []string
		want []string
	}{
		{"default", "checkout page is slow", nil, []string{"API"}},
		{"api key case-insensitive", "my API KEY stopped working", nil, []string{"API Key"}},
		{"from logs", "help", []string{"ERROR: 429 Too Many Requests"}, []string{"Rate Limit"}},
		{"rule order", "webhook SSL certificate after v2 migration, database 500", nil, []string{"Database", "SSL", "Migration", "Webhook"}},
		{"invalid maps to json", "invalid payload", nil, []string{"JSON"}},
		{"each rule once", "rate limit 429 rate limit", nil, []string{"Rate Limit"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, searchTerms(tt.text, tt.logs)); diff != "" {
				t.Errorf("terms mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDocRetriever_DedupFirstSeen(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	r := &docRetriever{docs: store, logger: log.Nop()}
	logs, _ := store.Lookup(context.Background(), "m_101")

	u := r.retrieve(context.Background(), "webhooks failing", logs)

	if len(u.KBArticles) != 8 {
		t.Fatalf("articles = %d, want 8 unique", len(u.KBArticles))
	}
	// SSL results come first, then the webhook-only ones
	if !strings.HasPrefix(u.KBArticles[0], "## Webhook SSL Configuration") {
		t.Errorf("first article = %.40q", u.KBArticles[0])
	}
	if !strings.HasPrefix(u.KBArticles[1], "## Webhook SSL Certificate Troubleshooting") {
		t.Errorf("second article = %.40q", u.KBArticles[1])
	}
	if !strings.HasPrefix(u.KBArticles[2], "## Stripe Webhook Setup") {
		t.Errorf("third article = %.40q", u.KBArticles[2])
	}
	want := []string{"Searching docs for: SSL, Webhook", "Found 8 relevant documentation articles"}
	if diff := cmp.Diff(want, u.Trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}
