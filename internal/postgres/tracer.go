package postgres

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const selfPkg = "github.com/linnemanlabs/casewise/internal/postgres."

var queryObserver atomic.Pointer[queryObserverHolder]

type queryObserverHolder struct{ QueryObserver }

type (
	httpMethodKey struct{}
	dbStatsKey    struct{}
	queryKey      struct{}
)

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

// SetQueryObserver sets the global query observer. nil clears it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// ReqDBStats accumulates database statistics for one HTTP request.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// NewReqDBStatsContext returns a new context with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext extracts the ReqDBStats from the context, if present.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(dbStatsKey{}).(*ReqDBStats)
	return s, ok
}

// WithHTTPMethod stores the HTTP method in the context for query metric labels.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey{}, method)
}

// RequestContext is HTTP middleware that labels queries with the request
// method and collects per-request query stats, logged when the request ends.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := NewReqDBStatsContext(WithHTTPMethod(r.Context(), r.Method))
		next.ServeHTTP(w, r.WithContext(ctx))

		if s, ok := ReqDBStatsFromContext(ctx); ok && s.QueryCount > 0 {
			log.FromContext(ctx).Info(ctx, "request db stats",
				"db.queries", s.QueryCount,
				"db.errors", s.ErrorCount,
				"db.total_duration", s.TotalDuration.Seconds(),
			)
		}
	})
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(httpMethodKey{}).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// queryInfo is what TraceQueryStart hands to TraceQueryEnd.
type queryInfo struct {
	sql     string
	args    []any
	start   time.Time
	caller  string
	handler string
}

// queryLogger wraps another pgx.QueryTracer (otelpgx) and logs every query
// slower than minDuration, and every failed query.
type queryLogger struct {
	inner       pgx.QueryTracer
	minDuration time.Duration
}

func newQueryLogger(inner pgx.QueryTracer, minDuration time.Duration) queryLogger {
	return queryLogger{inner: inner, minDuration: minDuration}
}

func (t queryLogger) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qi := &queryInfo{sql: data.SQL, args: data.Args, start: time.Now()}
	qi.caller, qi.handler = findDBCallerAndHandler()

	// inner tracer opens the db span first
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	ctx = context.WithValue(ctx, queryKey{}, qi)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if qi.caller != "" {
			span.SetAttributes(attribute.String("db.caller", qi.caller))
		}
		if qi.handler != "" {
			span.SetAttributes(attribute.String("db.handler", qi.handler))
		}
	}
	return ctx
}

func (t queryLogger) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qi, _ := ctx.Value(queryKey{}).(*queryInfo)
	if qi == nil {
		qi = &queryInfo{}
	}
	var dur time.Duration
	if !qi.start.IsZero() {
		dur = time.Since(qi.start)
	}

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}
	observe(ctx, dur, data.Err)

	if data.Err == nil && dur < t.minDuration {
		return
	}

	fields := queryFields(qi, dur, data)
	L := log.FromContext(ctx)
	if data.Err != nil {
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

func observe(ctx context.Context, dur time.Duration, err error) {
	obs := getQueryObserver()
	if obs == nil || dur <= 0 {
		return
	}
	method := httpMethodFromContext(ctx)
	if method == "" {
		method = "UNKNOWN"
	}
	route := routePatternFromContext(ctx)
	if route == "" {
		route = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	obs.ObserveQuery(ctx, method, route, outcome, dur)
}

func queryFields(qi *queryInfo, dur time.Duration, data pgx.TraceQueryEndData) []any {
	fields := []any{
		"db.statement", qi.sql,
		"db.args", len(qi.args),
		"db.duration", dur.Seconds(),
	}

	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if op, _, _ := strings.Cut(tag, " "); op != "" {
			fields = append(fields, "db.operation.name", strings.ToUpper(op))
		}
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}
	if qi.caller != "" {
		fields = append(fields, "db.caller", qi.caller)
	}
	if qi.handler != "" {
		fields = append(fields, "db.handler", qi.handler)
	}

	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields,
			"db.error_code", pgErr.Code,
			"db.error_constraint", pgErr.ConstraintName,
		)
	}
	return fields
}

// findDBCallerAndHandler walks the stack to find the store method issuing
// the query (caller) and the first frame above it (handler).
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function

		switch {
		case fn == "":
		case strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/pgx/v5"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.HasPrefix(fn, selfPkg):
		case caller == "":
			caller = shortenFuncName(fn)
		default:
			return caller, shortenFuncName(fn)
		}

		if !more {
			return caller, handler
		}
	}
}

// shortenFuncName trims the import path and package name, keeping
// receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
