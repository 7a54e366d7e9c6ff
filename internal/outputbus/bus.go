// Package outputbus implements the per-task, append-only, ordered line
// buffer described in spec.md §4.3: subscribe/replay, backpressure via a
// bounded per-subscriber window, and the finalize() flush protocol that
// guarantees a terminal status line is never lost.
package outputbus

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/factorial-io/scotty-sub002/internal/model"
)

// DefaultWindow is the per-subscriber backlog before lines are dropped and
// replaced with a truncation marker, per spec.md §4.3.
const DefaultWindow = 4096

// Bus is a single task's output buffer.
type Bus struct {
	mu     sync.Mutex
	lines  []model.OutputLine
	nextSeq uint64
	active bool
	window int

	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	ch chan struct{}
}

// New creates an active Bus. window<=0 uses DefaultWindow.
func New(window int) *Bus {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Bus{
		active:      true,
		window:      window,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Append assigns the next seq to text and wakes subscribers. It does not
// check whether Finalize has run: a line appended afterwards still gets the
// next seq, after the terminal line, and only subscriptions made after that
// see it.
func (b *Bus) Append(stream model.OutputStream, text string) model.OutputLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	line := model.OutputLine{
		Seq:    b.nextSeq,
		Stream: stream,
		Ts:     time.Now(),
		Text:   text,
	}
	b.nextSeq++
	b.lines = append(b.lines, line)
	b.wakeLocked()
	return line
}

func (b *Bus) wakeLocked() {
	for s := range b.subscribers {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel delivering every line with seq >= fromSeq, in
// order, followed by new appends until the bus finalizes and the
// subscriber has drained the last line. The returned channel is closed
// when the subscription ends (finalize completed, or ctx cancelled).
func (b *Bus) Subscribe(ctx context.Context, fromSeq uint64) <-chan model.OutputLine {
	out := make(chan model.OutputLine, 64)
	wake := make(chan struct{}, 1)

	b.mu.Lock()
	sub := &subscriber{ch: wake}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
		}()

		cursor := fromSeq
		for {
			b.mu.Lock()
			pending, active, dropped := b.pendingLocked(cursor)
			b.mu.Unlock()

			if dropped > 0 {
				marker := model.OutputLine{
					Stream: model.StreamStatus,
					Ts:     time.Now(),
					Text:   truncationMarker(dropped),
				}
				select {
				case out <- marker:
				case <-ctx.Done():
					return
				}
			}

			for _, line := range pending {
				select {
				case out <- line:
					cursor = line.Seq + 1
				case <-ctx.Done():
					return
				}
			}

			if !active && cursor >= b.Len() {
				return
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
				// Periodic re-check covers the race between Finalize's
				// active flip and a subscriber that's already blocked
				// waiting on wake with nothing left queued.
			}
		}
	}()

	return out
}

// pendingLocked returns lines at or after cursor (applying the backpressure
// window), whether the bus is still active, and how many lines were
// dropped from the subscriber's tail due to falling behind.
func (b *Bus) pendingLocked(cursor uint64) ([]model.OutputLine, bool, int) {
	if cursor > b.nextSeq {
		cursor = b.nextSeq
	}
	backlog := b.nextSeq - cursor
	dropped := 0
	if int(backlog) > b.window {
		dropped = int(backlog) - b.window
		cursor = b.nextSeq - uint64(b.window)
	}
	// Seq is assigned sequentially from 0, so b.lines[i].Seq == i always
	// holds and cursor doubles as a direct slice index.
	out := make([]model.OutputLine, b.nextSeq-cursor)
	copy(out, b.lines[cursor:b.nextSeq])
	return out, b.active, dropped
}

func truncationMarker(n int) string {
	if n == 1 {
		return "[truncated 1 line]"
	}
	return "[truncated " + strconv.Itoa(n) + " lines]"
}

// Len returns the total number of appended lines.
func (b *Bus) Len() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}

// Active reports whether the bus still accepts appends.
func (b *Bus) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Finalize implements spec.md §4.3's flush-then-close protocol:
//  1. append any terminal status lines (supplied by the caller)
//  2. yield control once so pending writes land
//  3. poll subscribers one additional tick
//  4. clear the active flag
//
// This ordering is the documented fix for losing a terminal error line to
// a stream that closed before the line was flushed (spec.md §9).
func (b *Bus) Finalize(terminal ...model.OutputLine) {
	b.mu.Lock()
	for _, line := range terminal {
		line.Seq = b.nextSeq
		b.nextSeq++
		b.lines = append(b.lines, line)
	}
	b.wakeLocked()
	b.mu.Unlock()

	runtimeYield()

	b.mu.Lock()
	b.wakeLocked()
	b.mu.Unlock()
	runtimeYield()

	b.mu.Lock()
	b.active = false
	b.wakeLocked()
	b.mu.Unlock()
}

func runtimeYield() {
	// A real scheduler yield: lets any goroutine blocked on the wake
	// channel from Append/Finalize actually run before we flip active.
	ch := make(chan struct{})
	go close(ch)
	<-ch
}
