package utils

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestQueryTracer_LogsSlowAndFailedQueries(t *testing.T) {
	var buf bytes.Buffer
	now := time.Unix(1700000000, 0)
	tr := &QueryTracer{
		Threshold: 100 * time.Millisecond,
		Logger:    slog.New(slog.NewJSONHandler(&buf, nil)),
		now:       func() time.Time { return now },
	}

	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT   1"})
	now = now.Add(10 * time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})
	if buf.Len() != 0 {
		t.Fatalf("fast query must not be logged: %s", buf.String())
	}

	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "UPDATE accounts\n SET balance = 1"})
	now = now.Add(250 * time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})
	if !strings.Contains(buf.String(), "db slow query") || !strings.Contains(buf.String(), "UPDATE accounts SET balance = 1") {
		t.Fatalf("expected slow query log, got %s", buf.String())
	}

	buf.Reset()
	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 2"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})
	if !strings.Contains(buf.String(), "db query failed") {
		t.Fatalf("expected failure log, got %s", buf.String())
	}
}
