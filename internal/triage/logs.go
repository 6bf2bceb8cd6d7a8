package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// RecordStore returns the diagnostic log lines for an account identifier. A
// miss is an empty slice, not an error.
type RecordStore interface {
	Lookup(ctx context.Context, id string) ([]string, error)
}

// errorMarker maps a substring found in a log line to a category label.
type errorMarker struct {
	match func(line string) bool
	label string
}

func contains(sub string) func(string) bool {
	return func(line string) bool { return strings.Contains(line, sub) }
}

func containsFold(upper string) func(string) bool {
	return func(line string) bool { return strings.Contains(strings.ToUpper(line), upper) }
}

// errorMarkers is checked in order; a line gets only its first matching label.
var errorMarkers = []errorMarker{
	{contains("403"), "403 Forbidden"},
	{contains("500"), "500 Server Error"},
	{contains("429"), "429 Rate Limited"},
	{containsFold("SSL"), "SSL Certificate Issue"},
	{containsFold("JSON"), "JSON Parsing Error"},
}

type logRetriever struct {
	records RecordStore
	logger  log.Logger
}

func (r *logRetriever) retrieve(ctx context.Context, accountID string) Update {
	if accountID == "" {
		return Update{LogEntries: []string{}, Trace: []string{"Skipping log lookup (no merchant ID)"}}
	}

	trace := []string{fmt.Sprintf("Searching logs for merchant %s...", accountID)}

	lines, err := r.records.Lookup(ctx, accountID)
	if err != nil {
		r.logger.Error(ctx, err, "record store lookup failed", "account_id", accountID)
		trace = append(trace, "Log lookup failed: "+err.Error())
		lines = nil
	}

	if len(lines) == 0 {
		trace = append(trace, fmt.Sprintf("No logs found for merchant %s", accountID))
		return Update{LogEntries: []string{}, Trace: trace}
	}

	trace = append(trace, fmt.Sprintf("Found %d log entries", len(lines)))
	if labels := classifyLines(lines); len(labels) > 0 {
		trace = append(trace, "Detected errors: "+strings.Join(labels, ", "))
	}

	return Update{LogEntries: lines, Trace: trace}
}

// classifyLines returns the distinct error categories found in lines, in the
// order they were first seen.
func classifyLines(lines []string) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, line := range lines {
		for _, m := range errorMarkers {
			if !m.match(line) {
				continue
			}
			if !seen[m.label] {
				seen[m.label] = true
				labels = append(labels, m.label)
			}
			break
		}
	}
	return labels
}
