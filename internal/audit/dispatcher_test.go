package audit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type gateSink struct {
	gate  chan struct{}
	count atomic.Int64
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
	s.count.Add(1)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Emit(context.Background(), Event{Action: ActionLogin})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with DropIfFull set")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops")
	}

	close(sink.gate)
	d.Close()
	if got := uint64(sink.count.Load()) + d.Dropped(); got != 50 {
		t.Fatalf("delivered+dropped = %d, want 50", got)
	}
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(DispatcherConfig{BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: ActionLogout})
	}
	d.Close()

	if len(sink.Events()) != 10 {
		t.Fatalf("expected 10 drained events, got %d", len(sink.Events()))
	}
	if d.Delivered() != 10 {
		t.Fatalf("delivered = %d", d.Delivered())
	}

	d.Emit(context.Background(), Event{})
	d.Close()
}

type panicSink struct{ calls atomic.Int64 }

func (s *panicSink) Emit(context.Context, Event) {
	s.calls.Add(1)
	panic("boom")
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	sink := &panicSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 4}, sink)
	d.Emit(context.Background(), Event{})
	d.Emit(context.Background(), Event{})
	d.Close()
	if sink.calls.Load() != 2 {
		t.Fatalf("expected worker to keep running, calls=%d", sink.calls.Load())
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 || d.Pending() != 0 {
		t.Fatal("nil dispatcher should report zero")
	}
}
