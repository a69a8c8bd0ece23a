package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"feedscroll/log"
	"feedscroll/scraper"
)

const (
	hubWriteWait    = 5 * time.Second
	hubPingInterval = 30 * time.Second
	hubClientBuffer = 64
)

type ProgressEvent struct {
	Type        string `json:"type"`
	Target      string `json:"target"`
	Round       int    `json:"round,omitempty"`
	NewPosts    int    `json:"new_posts,omitempty"`
	Yielded     int    `json:"yielded,omitempty"`
	Remaining   int    `json:"remaining,omitempty"`
	Stagnant    int    `json:"stagnant,omitempty"`
	Retries     int    `json:"retries,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Regressions string `json:"regressions,omitempty"`
}

// ProgressHub streams round and summary events to websocket clients on /progress. A client
// that can't keep up is disconnected rather than slowing the sessions down.
type ProgressHub struct {
	mutex    sync.Mutex
	clients  map[*hubClient]bool
	upgrader websocket.Upgrader
}

type hubClient struct {
	send chan []byte
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		mutex:   sync.Mutex{},
		clients: map[*hubClient]bool{},
		upgrader: websocket.Upgrader{ //nolint:exhaustruct
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *ProgressHub) SaveRound(report scraper.RoundReport) {
	h.broadcast(ProgressEvent{ //nolint:exhaustruct
		Type:      "round",
		Target:    report.Target.String(),
		Round:     report.Round,
		NewPosts:  report.NewPosts,
		Yielded:   report.Yielded,
		Remaining: report.Remaining,
		Stagnant:  report.Stagnant,
		Retries:   report.Retries,
	})
}

func (h *ProgressHub) SaveSummary(summary scraper.RunSummary, outcome scraper.Outcome) {
	h.broadcast(ProgressEvent{ //nolint:exhaustruct
		Type:    "summary",
		Target:  summary.Target.String(),
		Round:   summary.Rounds,
		Retries: summary.Retries,
		Outcome: string(outcome),
		Reason:  string(summary.ExhaustReason),
	})
}

func (h *ProgressHub) EmitTelemetry(regressions string, _ map[string]any) {
	h.broadcast(ProgressEvent{ //nolint:exhaustruct
		Type:        "regressions",
		Regressions: regressions,
	})
}

func (h *ProgressHub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

func (h *ProgressHub) broadcast(event ProgressEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Couldn't marshal progress event")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the http error
		log.Warn().Err(err).Msg("Progress stream upgrade failed")
		return
	}

	client := &hubClient{
		send: make(chan []byte, hubClientBuffer),
	}
	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()

	go h.readUntilClosed(conn, client)
	h.writeLoop(conn, client)
}

// readUntilClosed discards incoming messages and unregisters the client once the peer goes away.
func (h *ProgressHub) readUntilClosed(conn *websocket.Conn, client *hubClient) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mutex.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
	h.mutex.Unlock()
}

func (h *ProgressHub) writeLoop(conn *websocket.Conn, client *hubClient) {
	pingTicker := time.NewTicker(hubPingInterval)
	defer func() {
		pingTicker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
