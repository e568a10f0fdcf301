// Package realtime fans execution status events out to SSE and
// WebSocket subscribers.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Broker handles Server-Sent Events (SSE) clients and broadcasting of
// execution status events. A client may subscribe to a single execution
// ID or to all executions.
type Broker struct {
	clients    map[chan []byte]string // value is the execution ID filter, "" for all
	register   chan registration
	unregister chan chan []byte
	broadcast  chan envelope
	mu         sync.RWMutex
	log        zerolog.Logger
}

type registration struct {
	ch     chan []byte
	filter string
}

type envelope struct {
	executionID string
	body        []byte
}

// NewBroker creates a new SSE broker
func NewBroker(logger zerolog.Logger) *Broker {
	return &Broker{
		clients:    make(map[chan []byte]string),
		register:   make(chan registration),
		unregister: make(chan chan []byte),
		broadcast:  make(chan envelope, 1000),
		log:        logger.With().Str("component", "realtime").Logger(),
	}
}

// Run starts the broker loop
func (b *Broker) Run() {
	for {
		select {
		case reg := <-b.register:
			b.mu.Lock()
			b.clients[reg.ch] = reg.filter
			b.mu.Unlock()
			b.log.Debug().Int("total", len(b.clients)).Msg("sse client connected")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client)
				b.log.Debug().Int("total", len(b.clients)).Msg("sse client disconnected")
			}
			b.mu.Unlock()

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client, filter := range b.clients {
				if filter != "" && filter != msg.executionID {
					continue
				}
				select {
				case client <- msg.body:
				default:
					// Skip if client buffer is full to prevent blocking
				}
			}
			b.mu.RUnlock()
		}
	}
}

// ServeHTTP handles the SSE endpoint. The executionID filter comes from
// the ?execution_id query parameter; absent means all executions.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	clientChan := make(chan []byte, 10)
	b.register <- registration{ch: clientChan, filter: r.URL.Query().Get("execution_id")}

	notify := r.Context().Done()

	for {
		select {
		case <-notify:
			b.unregister <- clientChan
			return
		case msg := <-clientChan:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			w.(http.Flusher).Flush()
		}
	}
}

// Broadcast sends an execution status event to all matching clients.
func (b *Broker) Broadcast(executionID, event string, payload interface{}) {
	data := map[string]interface{}{
		"event":   event,
		"payload": payload,
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		b.log.Error().Err(err).Msg("marshal broadcast message")
		return
	}

	select {
	case b.broadcast <- envelope{executionID: executionID, body: jsonBytes}:
	default:
		// Drop if broadcast buffer full
	}
}
