package utils

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

type traceStartKey struct{}

type traceStart struct {
	at  time.Time
	sql string
}

// QueryTracer logs queries slower than Threshold and every failed query.
type QueryTracer struct {
	Threshold time.Duration
	Logger    *slog.Logger

	now func() time.Time
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceStartKey{}, traceStart{at: t.clock(), sql: data.SQL})
}

func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(traceStartKey{}).(traceStart)
	if !ok {
		return
	}
	elapsed := t.clock().Sub(start.at)
	l := t.Logger
	if l == nil {
		l = slog.Default()
	}
	switch {
	case data.Err != nil:
		l.Warn("db query failed", "sql", compactSQL(start.sql), "duration_ms", elapsed.Milliseconds(), "err", data.Err)
	case t.Threshold > 0 && elapsed >= t.Threshold:
		l.Warn("db slow query", "sql", compactSQL(start.sql), "duration_ms", elapsed.Milliseconds(), "rows", data.CommandTag.RowsAffected())
	}
}

func (t *QueryTracer) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func compactSQL(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 200 {
		return q[:200] + "..."
	}
	return q
}
