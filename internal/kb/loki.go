package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	lokiSuccess      = "success"
	lokiMaxBody      = 5 << 20 // 5 MB
	defaultLokiLabel = "account_id"
	defaultLokiLimit = 200
)

// LokiLogs is a record store backed by Loki. Each account's log lines are a
// stream selected by a single label; the label's values are the store keys,
// so the same resolution rules as the in-memory store apply.
type LokiLogs struct {
	endpoint   string
	tenantID   string
	label      string
	lookback   time.Duration
	limit      int
	httpClient *http.Client
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiQueryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string       `json:"resultType"`
		Result     []lokiStream `json:"result"`
	} `json:"data"`
}

type lokiLabelResponse struct {
	Status string   `json:"status"`
	Data   []string `json:"data"`
}

type lokiEntry struct {
	ts   int64
	line string
}

// NewLokiLogs creates a Loki-backed record store. An empty label defaults to
// "account_id"; a non-positive lookback defaults to 7 days.
func NewLokiLogs(endpoint, tenantID, label string, lookback time.Duration) *LokiLogs {
	if label == "" {
		label = defaultLokiLabel
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &LokiLogs{
		endpoint:   endpoint,
		tenantID:   tenantID,
		label:      label,
		lookback:   lookback,
		limit:      defaultLokiLimit,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Lookup resolves id against the label's values and returns that stream's
// lines oldest first.
func (l *LokiLogs) Lookup(ctx context.Context, id string) ([]string, error) {
	values, err := l.labelValues(ctx)
	if err != nil {
		return nil, err
	}

	// label values are matched lower-cased but queried verbatim
	keys := make([]string, len(values))
	byKey := make(map[string]string, len(values))
	for i, v := range values {
		keys[i] = Normalize(v)
		if _, seen := byKey[keys[i]]; !seen {
			byKey[keys[i]] = v
		}
	}

	key, ok := Resolve(keys, id)
	if !ok {
		return []string{}, nil
	}

	return l.queryStream(ctx, byKey[key])
}

func (l *LokiLogs) labelValues(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	q := url.Values{}
	q.Set("start", strconv.FormatInt(now.Add(-l.lookback).UnixNano(), 10))
	q.Set("end", strconv.FormatInt(now.UnixNano(), 10))

	body, err := l.get(ctx, "loki/api/v1/label/"+l.label+"/values", q)
	if err != nil {
		return nil, err
	}

	var resp lokiLabelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("loki: decode label values: %w", err)
	}
	if resp.Status != lokiSuccess {
		return nil, fmt.Errorf("loki: label values status %q", resp.Status)
	}
	return resp.Data, nil
}

func (l *LokiLogs) queryStream(ctx context.Context, value string) ([]string, error) {
	now := time.Now().UTC()
	q := url.Values{}
	q.Set("query", fmt.Sprintf(`{%s=%q}`, l.label, value))
	q.Set("start", strconv.FormatInt(now.Add(-l.lookback).UnixNano(), 10))
	q.Set("end", strconv.FormatInt(now.UnixNano(), 10))
	q.Set("limit", strconv.Itoa(l.limit))
	q.Set("direction", "forward")

	body, err := l.get(ctx, "loki/api/v1/query_range", q)
	if err != nil {
		return nil, err
	}

	var resp lokiQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("loki: decode query: %w", err)
	}
	if resp.Status != lokiSuccess {
		return nil, fmt.Errorf("loki: query status %q", resp.Status)
	}

	return flattenStreams(resp.Data.Result, l.limit), nil
}

func (l *LokiLogs) get(ctx context.Context, apiPath string, q url.Values) ([]byte, error) {
	u, err := url.Parse(l.endpoint)
	if err != nil {
		return nil, fmt.Errorf("loki: invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, apiPath)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("loki: create request: %w", err)
	}
	if l.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.tenantID)
	}

	resp, err := l.httpClient.Do(req) //nolint:gosec // endpoint is from config, account id is query-encoded
	if err != nil {
		return nil, fmt.Errorf("loki: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, lokiMaxBody))
	if err != nil {
		return nil, fmt.Errorf("loki: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki: returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// flattenStreams merges every stream's entries into one slice ordered by
// timestamp, capped at limit.
func flattenStreams(results []lokiStream, limit int) []string {
	var entries []lokiEntry
	for _, stream := range results {
		for _, v := range stream.Values {
			if len(v) < 2 {
				continue
			}
			ts, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, lokiEntry{ts: ts, line: v[1]})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })

	if len(entries) > limit {
		entries = entries[:limit]
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.line
	}
	return lines
}
