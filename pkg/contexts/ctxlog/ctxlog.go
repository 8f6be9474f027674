// Package ctxlog carries a go-kit logger on a context, so the build
// steps can log without threading a logger through every call.
package ctxlog

import (
	"context"

	"github.com/go-kit/kit/log"
	"go.opencensus.io/trace"
)

type key int

const loggerKey key = 0

func NewContext(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored on ctx, or a nop logger. When
// ctx carries an initialized span, the trace and span ids are added.
func FromContext(ctx context.Context) log.Logger {
	v, ok := ctx.Value(loggerKey).(log.Logger)
	if !ok {
		return log.NewNopLogger()
	}
	span := trace.FromContext(ctx).SpanContext()

	// Zero ids are noise.
	if isTraceUninitialized(span) {
		return v
	}

	return log.With(
		v,
		"trace_id", span.TraceID.String(),
		"span_id", span.SpanID.String(),
		"trace_is_sampled", span.IsSampled(),
	)
}

func isTraceUninitialized(span trace.SpanContext) bool {
	for _, b := range span.TraceID {
		if b != 0 {
			return false
		}
	}
	return true
}
