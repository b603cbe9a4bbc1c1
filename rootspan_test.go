package tracekit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

func TestRootSpanChildInheritsTraceIdentity(t *testing.T) {
	root := NewRootSpan(SpanOptions{Name: "root"}, clockz.NewFakeClock(), zap.NewNop())
	root.Start()

	child := root.StartChildSpan("child", KindClient)
	require.NotNil(t, child)

	assert.Equal(t, root.TraceID(), child.TraceID())
	assert.Equal(t, root.SpanID(), child.Record().ParentSpanID)
	assert.NotEqual(t, root.SpanID(), child.SpanID())
	assert.True(t, child.Record().SameProcessAsParentSpan)
	assert.False(t, root.Record().SameProcessAsParentSpan)
	assert.True(t, child.Started(), "children start immediately")
	assert.Equal(t, KindClient, child.Record().Kind)
}

func TestRootSpanChildListIsInsertionOrdered(t *testing.T) {
	root := NewRootSpan(SpanOptions{Name: "root"}, clockz.NewFakeClock(), zap.NewNop())
	root.Start()

	first := root.StartChildSpan("first", KindClient)
	second := root.StartChildSpan("second", KindServer)

	children := root.Children()
	require.Len(t, children, 2)
	assert.Same(t, first, children[0])
	assert.Same(t, second, children[1])
}

func TestRootSpanRejectsChildOnUnstartedRoot(t *testing.T) {
	logger, logs := observedLogger()
	root := NewRootSpan(SpanOptions{Name: "root"}, clockz.NewFakeClock(), logger)

	assert.Nil(t, root.StartChildSpan("early", KindClient))
	assert.Equal(t, 1, logs.FilterMessage("child span on unstarted root").Len())
}

func TestRootSpanRejectsChildOnEndedRoot(t *testing.T) {
	logger, logs := observedLogger()
	root := NewRootSpan(SpanOptions{Name: "root"}, clockz.NewFakeClock(), logger)
	root.Start()
	root.End()

	assert.Nil(t, root.StartChildSpan("late", KindClient))
	assert.Equal(t, 1, logs.FilterMessage("child span on ended root").Len())
	assert.Nil(t, root.Children(), "child list is released once the root ends")
}

func TestRootSpanEndTruncatesOnlyOpenChildren(t *testing.T) {
	fakeClock := clockz.NewFakeClock()
	root := NewRootSpan(SpanOptions{Name: "root"}, fakeClock, zap.NewNop())
	root.Start()

	finished := root.StartChildSpan("finished", KindClient)
	open := root.StartChildSpan("open", KindClient)
	alsoOpen := root.StartChildSpan("also-open", KindClient)

	finished.End()
	finishedEnd := finished.Record().EndTime

	fakeClock.Advance(25 * time.Millisecond)
	root.End()

	assert.True(t, open.Ended())
	assert.True(t, open.Truncated())
	assert.True(t, alsoOpen.Ended())
	assert.True(t, alsoOpen.Truncated())

	assert.False(t, finished.Truncated())
	assert.Equal(t, finishedEnd, finished.Record().EndTime, "already-ended children are untouched")
}

func TestRootSpanRelaysChildEventsToOwnListeners(t *testing.T) {
	root := NewRootSpan(SpanOptions{Name: "root"}, clockz.NewFakeClock(), zap.NewNop())
	listener := &recordingListener{}
	root.RegisterSpanEventListener(listener)

	root.Start()
	child := root.StartChildSpan("child", KindClient)
	child.End()
	root.End()

	assert.Equal(t, []string{"root", "child"}, listener.startedNames())
	assert.Equal(t, []string{"child", "root"}, listener.endedNames(),
		"child events fall strictly inside the root's start and end")
}

func TestRootSpanEndEmitsTruncatedChildBeforeRoot(t *testing.T) {
	root := NewRootSpan(SpanOptions{Name: "root"}, clockz.NewFakeClock(), zap.NewNop())
	listener := &recordingListener{}
	root.RegisterSpanEventListener(listener)

	root.Start()
	root.StartChildSpan("dangling", KindClient)
	root.End()

	assert.Equal(t, []string{"dangling", "root"}, listener.endedNames(),
		"no child event is observed after the root's own end event")
}

func TestNewRootSpanContinuesSuppliedTrace(t *testing.T) {
	ctx := &SpanContext{
		TraceID: "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:  "00f067aa0ba902b7",
	}
	root := NewRootSpan(SpanOptions{Name: "root", SpanContext: ctx}, clockz.NewFakeClock(), zap.NewNop())

	assert.Equal(t, ctx.TraceID, root.TraceID())
	assert.Equal(t, ctx.SpanID, root.Record().ParentSpanID)
}

func TestNewRootSpanGeneratesFreshTraceByDefault(t *testing.T) {
	a := NewRootSpan(SpanOptions{Name: "a"}, clockz.NewFakeClock(), zap.NewNop())
	b := NewRootSpan(SpanOptions{Name: "b"}, clockz.NewFakeClock(), zap.NewNop())

	assert.Len(t, a.TraceID(), 32)
	assert.NotEqual(t, a.TraceID(), b.TraceID())
	assert.Empty(t, a.Record().ParentSpanID)
	assert.Equal(t, KindUnspecified, a.Record().Kind)
}
