package ctxlog

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"
	"go.opencensus.io/trace"
)

func TestFromContextWithoutLogger(t *testing.T) {
	t.Parallel()

	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	require.NoError(t, logger.Log("msg", "discarded"))
}

func TestFromContextRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := NewContext(context.Background(), log.NewLogfmtLogger(&buf))

	require.NoError(t, FromContext(ctx).Log("msg", "hello"))
	require.Equal(t, "msg=hello\n", buf.String())
}

func TestFromContextAddsSpanIds(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := NewContext(context.Background(), log.NewLogfmtLogger(&buf))
	ctx, span := trace.StartSpan(ctx, "ctxlog.test", trace.WithSampler(trace.AlwaysSample()))
	defer span.End()

	require.NoError(t, FromContext(ctx).Log("msg", "hello"))
	require.Contains(t, buf.String(), "trace_id="+span.SpanContext().TraceID.String())
	require.Contains(t, buf.String(), "span_id="+span.SpanContext().SpanID.String())
	require.Contains(t, buf.String(), "trace_is_sampled=true")
}
