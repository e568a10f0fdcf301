package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// HandleWebSocket upgrades the connection and streams execution status
// events over it, honoring the same ?execution_id filter as the SSE
// endpoint.
func (b *Broker) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	b.StreamWebSocket(w, r, r.URL.Query().Get("execution_id"))
}

// StreamWebSocket streams events for one execution (or all, when filter
// is empty) over a websocket. The connection closes when the client goes
// away or a write fails.
func (b *Broker) StreamWebSocket(w http.ResponseWriter, r *http.Request, filter string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	clientChan := make(chan []byte, 10)
	b.register <- registration{ch: clientChan, filter: filter}
	defer func() { b.unregister <- clientChan }()

	// Reader goroutine only drains control frames and detects closure.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-clientChan:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
