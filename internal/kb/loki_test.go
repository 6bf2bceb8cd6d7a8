package kb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fakeLoki(t *testing.T, labels string, streams string) (*httptest.Server, *atomic.Value) {
	t.Helper()

	var lastQuery atomic.Value
	lastQuery.Store("")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Scope-OrgID") != "tenant-a" {
			http.Error(w, "no tenant", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/loki/api/v1/label/account_id/values":
			_, _ = fmt.Fprintf(w, `{"status":"success","data":%s}`, labels)
		case "/loki/api/v1/query_range":
			lastQuery.Store(r.URL.Query().Get("query"))
			_, _ = fmt.Fprintf(w, `{"status":"success","data":{"resultType":"streams","result":%s}}`, streams)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &lastQuery
}

func TestLokiLogs_Lookup(t *testing.T) {
	t.Parallel()

	streams := `[
		{"stream":{"account_id":"M_ecom_004","level":"error"},"values":[["3000","third"],["1000","first"]]},
		{"stream":{"account_id":"M_ecom_004","level":"info"},"values":[["2000","second"],["bad","skipped"],["9"]]}
	]`
	srv, lastQuery := fakeLoki(t, `["m_123","M_ecom_004"]`, streams)

	l := NewLokiLogs(srv.URL, "tenant-a", "", 0)
	got, err := l.Lookup(context.Background(), "m_004")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	if diff := cmp.Diff([]string{"first", "second", "third"}, got); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if q := lastQuery.Load().(string); q != `{account_id="M_ecom_004"}` {
		t.Errorf("query = %q, want original label value", q)
	}
}

func TestLokiLogs_LookupMiss(t *testing.T) {
	t.Parallel()

	srv, lastQuery := fakeLoki(t, `["m_123"]`, `[]`)

	l := NewLokiLogs(srv.URL, "tenant-a", "account_id", 0)
	got, err := l.Lookup(context.Background(), "m_999")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %#v, want empty non-nil slice", got)
	}
	if q := lastQuery.Load().(string); q != "" {
		t.Errorf("unexpected stream query %q on miss", q)
	}
}

func TestLokiLogs_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "non-200",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			want: "returned 502",
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = fmt.Fprint(w, "not json")
			},
			want: "decode label values",
		},
		{
			name: "error status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = fmt.Fprint(w, `{"status":"error","data":[]}`)
			},
			want: `status "error"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewLokiLogs(srv.URL, "", "", 0).Lookup(context.Background(), "m_123")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestFlattenStreams_Limit(t *testing.T) {
	t.Parallel()

	results := []lokiStream{{Values: [][]string{{"3", "c"}, {"1", "a"}, {"2", "b"}}}}
	if diff := cmp.Diff([]string{"a", "b"}, flattenStreams(results, 2)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
