package realtime

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBrokerFiltersByExecution(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	go b.Run()

	all := make(chan []byte, 10)
	only1 := make(chan []byte, 10)
	b.register <- registration{ch: all}
	b.register <- registration{ch: only1, filter: "exec-1"}

	b.Broadcast("exec-1", "execution_status", map[string]string{"status": "running"})
	b.Broadcast("exec-2", "execution_status", map[string]string{"status": "failed"})

	deadline := time.After(2 * time.Second)
	var allGot []string
	for len(allGot) < 2 {
		select {
		case msg := <-all:
			allGot = append(allGot, string(msg))
		case <-deadline:
			t.Fatalf("unfiltered client expected 2 events, got %d", len(allGot))
		}
	}

	select {
	case msg := <-only1:
		if !strings.Contains(string(msg), "running") {
			t.Errorf("filtered client got the wrong event: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("filtered client expected its event")
	}

	select {
	case msg := <-only1:
		t.Errorf("filtered client must not receive other executions' events: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}

	b.unregister <- all
	b.unregister <- only1
}

func TestBroadcastDoesNotBlockOnSlowClient(t *testing.T) {
	b := NewBroker(zerolog.Nop())
	go b.Run()

	slow := make(chan []byte) // unbuffered and never read
	b.register <- registration{ch: slow}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Broadcast("exec-1", "execution_status", map[string]int{"seq": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast must drop rather than block on a slow client")
	}
}
