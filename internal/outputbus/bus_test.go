package outputbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factorial-io/scotty-sub002/internal/model"
)

func drain(t *testing.T, ch <-chan model.OutputLine, timeout time.Duration) []model.OutputLine {
	t.Helper()
	var out []model.OutputLine
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, line)
		case <-deadline:
			t.Fatalf("timed out waiting for bus to close, got %d lines", len(out))
		}
	}
}

func TestBus_OrderedDeliveryAndFinalize(t *testing.T) {
	bus := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx, 0)

	bus.Append(model.StreamStdout, "A")
	bus.Append(model.StreamStdout, "B")
	bus.Append(model.StreamStdout, "C")
	bus.Finalize(model.OutputLine{Stream: model.StreamStatus, Text: "Finished"})

	lines := drain(t, ch, 2*time.Second)
	require.Len(t, lines, 4)

	var lastSeq uint64
	for i, l := range lines {
		if i > 0 {
			assert.Equal(t, lastSeq+1, l.Seq, "sequence must be contiguous")
		}
		lastSeq = l.Seq
	}
	assert.Equal(t, "A", lines[0].Text)
	assert.Equal(t, "C", lines[2].Text)
	assert.Equal(t, "Finished", lines[3].Text)
	assert.Equal(t, model.StreamStatus, lines[3].Stream)
}

func TestBus_LateSubscriberReplaysFromSeq(t *testing.T) {
	bus := New(0)
	bus.Append(model.StreamStdout, "one")
	bus.Append(model.StreamStdout, "two")
	bus.Append(model.StreamStdout, "three")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx, 2)
	bus.Finalize()

	lines := drain(t, ch, 2*time.Second)
	require.Len(t, lines, 1)
	assert.Equal(t, "three", lines[0].Text)
}

func TestBus_BackpressureEmitsSingleTruncationMarker(t *testing.T) {
	bus := New(5)
	for i := 0; i < 20; i++ {
		bus.Append(model.StreamStdout, "line")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx, 0)
	bus.Finalize()

	lines := drain(t, ch, 2*time.Second)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0].Text, "truncated")
	assert.Equal(t, model.StreamStatus, lines[0].Stream)
}

func TestBus_MultipleSubscribersAllSeeTerminalState(t *testing.T) {
	bus := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var channels []<-chan model.OutputLine
	for i := 0; i < 3; i++ {
		channels = append(channels, bus.Subscribe(ctx, 0))
	}

	bus.Append(model.StreamStdout, "hello")
	bus.Finalize(model.OutputLine{Stream: model.StreamStatus, Text: "Finished"})

	for _, ch := range channels {
		lines := drain(t, ch, 2*time.Second)
		require.NotEmpty(t, lines)
		last := lines[len(lines)-1]
		assert.Equal(t, "Finished", last.Text)
	}
}
