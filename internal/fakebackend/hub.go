package fakebackend

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// peer is one authenticated socket.
type peer struct {
	conn        *websocket.Conn
	userID      string
	outgoing    chan []byte
	connectedAt time.Time
}

// hub tracks connected peers and routes frames to users.
type hub struct {
	peers map[*peer]bool
	mu    sync.RWMutex
}

func newHub() *hub {
	return &hub{peers: make(map[*peer]bool)}
}

func (h *hub) register(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p] = true
}

func (h *hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, p)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// sendTo queues data on every connection of userID and reports how many
// connections it was queued on. Full queues are skipped.
func (h *hub) sendTo(userID string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for p := range h.peers {
		if p.userID != userID {
			continue
		}
		select {
		case p.outgoing <- data:
			n++
		default:
		}
	}
	return n
}

// onlineSince returns when the earliest live connection of userID was
// established.
func (h *hub) onlineSince(userID string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var since time.Time
	for p := range h.peers {
		if p.userID == userID && (since.IsZero() || p.connectedAt.Before(since)) {
			since = p.connectedAt
		}
	}
	return since, !since.IsZero()
}

func (h *hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		p.conn.Close()
	}
}
