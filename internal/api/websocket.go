package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// ──────────────────── WebSocket Hub ────────────────────

// WSHub fans broker messages out to every connected browser. The last
// folder:status per hash is kept so a freshly connected client sees
// the current state of every inbox folder without polling.
type WSHub struct {
	mu       sync.RWMutex
	clients  map[*WSClient]bool
	folders  map[string]json.RawMessage // folder hash → last folder:status message
	foldersM sync.RWMutex
}

type WSClient struct {
	conn *websocket.Conn
	send chan []byte
}

type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*WSClient]bool),
		folders: make(map[string]json.RawMessage),
	}
}

func (h *WSHub) Broadcast(event string, data interface{}) {
	msg, err := json.Marshal(WSMessage{Event: event, Data: data})
	if err != nil {
		return
	}

	if event == "folder:status" {
		h.trackFolder(data, msg)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (h *WSHub) trackFolder(data interface{}, raw []byte) {
	type hashed struct {
		Hash string `json:"hash"`
	}
	var upd hashed
	switch v := data.(type) {
	case map[string]interface{}:
		upd.Hash, _ = v["hash"].(string)
	default:
		buf, err := json.Marshal(data)
		if err != nil {
			return
		}
		if json.Unmarshal(buf, &upd) != nil {
			return
		}
	}
	if upd.Hash == "" {
		return
	}
	h.foldersM.Lock()
	h.folders[upd.Hash] = json.RawMessage(raw)
	h.foldersM.Unlock()
}

// sendFolderStates replays the latest status of every known folder to
// a newly connected client.
func (h *WSHub) sendFolderStates(client *WSClient) {
	h.foldersM.RLock()
	defer h.foldersM.RUnlock()
	for _, msg := range h.folders {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (h *WSHub) addClient(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *WSHub) removeClient(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────── WebSocket Handler ────────────────────

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("WebSocket accept error: %v", err)
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.wsHub.addClient(client)
	s.wsHub.sendFolderStates(client)
	log.Printf("WebSocket client connected (%d active)", s.wsHub.ClientCount())

	ctx := r.Context()

	// Writer goroutine
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range client.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	// Reader loop keeps the connection alive and handles pings.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	s.wsHub.removeClient(client)
	log.Printf("WebSocket client disconnected (%d active)", s.wsHub.ClientCount())
}
