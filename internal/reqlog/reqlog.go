// Package reqlog keeps request counters and a bounded history of recent
// analyze requests for the stats and history endpoints.
package reqlog

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultSize is the number of entries kept when New is given a non-positive size.
const DefaultSize = 100

const previewLen = 50

// Entry is one recorded request.
type Entry struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	TicketPreview string    `json:"ticket_preview"`
	AccountID     string    `json:"account_id,omitempty"`
	Success       bool      `json:"success"`
	DurationMS    float64   `json:"duration_ms"`
}

// Stats are the cumulative counters since start or the last Clear.
type Stats struct {
	TotalRequests      int64  `json:"total_requests"`
	SuccessfulRequests int64  `json:"successful_requests"`
	FailedRequests     int64  `json:"failed_requests"`
	SuccessRate        string `json:"success_rate"`
}

// Log is a concurrency-safe request log. History is a fixed-size ring; the
// counters are unbounded.
type Log struct {
	mu      sync.Mutex
	ring    []Entry
	head    int // index of the next write
	n       int // entries in ring
	total   int64
	ok      int64
	failed  int64
	logger  log.Logger
	nowFunc func() time.Time
}

// New creates a Log holding the last size entries.
func New(size int, logger log.Logger) *Log {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Log{
		ring:    make([]Entry, size),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Record counts one request and appends it to the history.
func (l *Log) Record(ctx context.Context, ticketText, accountID string, success bool, d time.Duration) Entry {
	l.mu.Lock()
	l.total++
	if success {
		l.ok++
	} else {
		l.failed++
	}

	e := Entry{
		ID:            l.total,
		Timestamp:     l.nowFunc().UTC(),
		TicketPreview: preview(ticketText),
		AccountID:     accountID,
		Success:       success,
		DurationMS:    math.Round(float64(d)/float64(time.Millisecond)*100) / 100,
	}
	l.ring[l.head] = e
	l.head = (l.head + 1) % len(l.ring)
	if l.n < len(l.ring) {
		l.n++
	}
	l.mu.Unlock()

	l.logger.Info(ctx, "analyze request recorded",
		"request_no", e.ID,
		"success", success,
		"duration_ms", e.DurationMS,
	)
	return e
}

// Stats returns the current counters.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	rate := "N/A"
	if l.total > 0 {
		rate = fmt.Sprintf("%.1f%%", float64(l.ok)/float64(l.total)*100)
	}
	return Stats{
		TotalRequests:      l.total,
		SuccessfulRequests: l.ok,
		FailedRequests:     l.failed,
		SuccessRate:        rate,
	}
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit > l.n {
		limit = l.n
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.head - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// Len reports how many entries the history holds.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Clear resets the counters and empties the history.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.ring)
	l.head, l.n = 0, 0
	l.total, l.ok, l.failed = 0, 0, 0
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
