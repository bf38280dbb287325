package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oromail/listd/logger"
)

// CustomTracer logs every query with its duration. Enabled with
// database.debug in the configuration.
type CustomTracer struct{}

type traceQueryCtxKey struct{}

type traceQueryData struct {
	sql   string
	start time.Time
}

func (t *CustomTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceQueryCtxKey{}, &traceQueryData{
		sql:   data.SQL,
		start: time.Now(),
	})
}

func (t *CustomTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qd, ok := ctx.Value(traceQueryCtxKey{}).(*traceQueryData)
	if !ok {
		return
	}
	if data.Err != nil {
		logger.Debug("query failed", "sql", qd.sql, "duration", time.Since(qd.start), "error", data.Err)
		return
	}
	logger.Debug("query", "sql", qd.sql, "duration", time.Since(qd.start))
}
