package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/feedforward/internal/archive/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Get", "(*Store).Get"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompactSQL(t *testing.T) {
	t.Parallel()

	got := compactSQL("SELECT id,\n\t\tkind\n  FROM batches   WHERE id = $1")
	if want := "SELECT id, kind FROM batches WHERE id = $1"; got != want {
		t.Errorf("compactSQL = %q, want %q", got, want)
	}

	long := compactSQL("SELECT " + strings.Repeat("x", 2*maxStatementLog))
	if len(long) != maxStatementLog+3 || !strings.HasSuffix(long, "...") {
		t.Errorf("long statement not truncated: len=%d", len(long))
	}
}

func TestWithHTTPMethod_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "POST")
	if got := httpMethodFromContext(ctx); got != "POST" {
		t.Errorf("httpMethodFromContext = %q, want %q", got, "POST")
	}
	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "")); got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
}

func TestQueryFields(t *testing.T) {
	t.Parallel()

	info := queryInfo{sql: "INSERT INTO batches VALUES ($1)", nargs: 1, caller: "(*Store).Put"}
	data := pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("INSERT 0 1"),
		Err:        &pgconn.PgError{Code: "23505"},
	}
	fields := queryFields(info, 2*time.Millisecond, data)

	got := map[string]any{}
	for i := 0; i+1 < len(fields); i += 2 {
		got[fields[i].(string)] = fields[i+1]
	}
	if got["db.operation.name"] != "INSERT" {
		t.Errorf("operation = %v", got["db.operation.name"])
	}
	if got["db.rows"] != int64(1) {
		t.Errorf("rows = %v", got["db.rows"])
	}
	if got["db.args"] != 1 {
		t.Errorf("args = %v, want the count only", got["db.args"])
	}
	if got["db.error_code"] != "23505" {
		t.Errorf("error code = %v", got["db.error_code"])
	}
	if got["db.caller"] != "(*Store).Put" {
		t.Errorf("caller = %v", got["db.caller"])
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	durs  []time.Duration
}

func (r *recordingObserver) ObserveQuery(_ context.Context, method, route, outcome string, dur time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method+" "+route+" "+outcome)
	r.durs = append(r.durs, dur)
}

// The observer is process global, so these subtests run sequentially.
func TestLoggingTracer_ObservesQueries(t *testing.T) {
	obs := &recordingObserver{}
	SetQueryObserver(obs)
	defer SetQueryObserver(nil)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := loggingTracer{now: func() time.Time { return clock }}

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	clock = clock.Add(5 * time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	ctx = WithHTTPMethod(context.Background(), "GET")
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 2"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	want := []string{"NONE background ok", "GET background error"}
	if len(obs.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", obs.calls, want)
	}
	for i := range want {
		if obs.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, obs.calls[i], want[i])
		}
	}
	if obs.durs[0] != 5*time.Millisecond {
		t.Errorf("duration = %v, want 5ms", obs.durs[0])
	}
}

func TestSetQueryObserver_Nil(t *testing.T) {
	SetQueryObserver(QueryObserverFunc(func(context.Context, string, string, string, time.Duration) {}))
	SetQueryObserver(nil)
	if got := getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
