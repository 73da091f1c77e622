package worker

import (
	"context"
	"testing"
	"time"
)

// sendNonBlocking is the producer-side pattern used after a vote commits:
// queue the event if there is room, drop it otherwise, never wait.
func sendNonBlocking(ch chan<- VoteEvent, ev VoteEvent) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

func TestRunDrainsEventsAndStopsOnCancel(t *testing.T) {
	ch := make(chan VoteEvent, 8)
	for i := 0; i < 3; i++ {
		ch <- VoteEvent{ShareID: "abc12345", OptionIndex: i}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewStatsWorker(ch, nil).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(ch) > 0 {
		select {
		case <-deadline:
			t.Fatalf("worker did not drain the channel, %d events left", len(ch))
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

func TestFullChannelDropsInsteadOfBlocking(t *testing.T) {
	ch := make(chan VoteEvent, 2)
	ch <- VoteEvent{ShareID: "abc12345"}
	ch <- VoteEvent{ShareID: "abc12345"}

	// No consumer is running; the send must return immediately.
	start := time.Now()
	sent := sendNonBlocking(ch, VoteEvent{ShareID: "abc12345", OptionIndex: 1})
	elapsed := time.Since(start)

	if sent {
		t.Fatalf("send into a full channel reported success")
	}
	if elapsed > 100*time.Millisecond {
		t.Fatalf("send into a full channel blocked for %v", elapsed)
	}
	if len(ch) != 2 {
		t.Fatalf("dropped event mutated the channel, len=%d", len(ch))
	}

	// Once the consumer frees a slot the next event goes through.
	<-ch
	if !sendNonBlocking(ch, VoteEvent{ShareID: "abc12345", OptionIndex: 2}) {
		t.Fatalf("send into a channel with room was dropped")
	}
}
