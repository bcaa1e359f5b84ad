package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansAttachToRoot(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "search", "trace-1")
	cctx, child := StartChildSpan(ctx, "search.compile")
	_, grandchild := StartChildSpan(cctx, "search.expand")
	grandchild.End()
	child.End()
	root.End()

	require.Len(t, root.Children, 1)
	assert.Equal(t, "trace-1", child.TraceID)
	assert.Equal(t, "trace-1", grandchild.TraceID)
	assert.Same(t, child, SpanFromContext(cctx))
	assert.Nil(t, SpanFromContext(context.Background()))
}

func TestTracerLogsOnlySampledTrees(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	tr := NewTracer(true, 1, logger)
	ctx, root := tr.Start(context.Background(), "search", "t1")
	_, child := StartChildSpan(ctx, "search.collect")
	child.SetAttr("total", 3)
	child.End()
	tr.Finish(root)
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "msg=span"))
	assert.Contains(t, out, "total=3")

	buf.Reset()
	off := NewTracer(false, 1, logger)
	_, root = off.Start(context.Background(), "search", "t2")
	off.Finish(root)
	assert.Empty(t, buf.String())
}
