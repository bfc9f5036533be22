package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
)

type peer struct {
	id     core.PartyID
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (p *peer) stop() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *peer) writeLoop(log *slog.Logger) {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.sendCh:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(ws.TextMessage, data); err != nil {
				log.Warn("Hub write error", "party", string(p.id), "error", err)
				p.stop()
				return
			}
		}
	}
}

// Hub relays envelopes between connected parties.
type Hub struct {
	secret   string
	log      *slog.Logger
	upgrader ws.Upgrader

	mu    sync.RWMutex
	peers map[core.PartyID]*peer
}

// NewHub creates a relay. An empty secret accepts every client.
func NewHub(secret string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		secret:   secret,
		log:      logger,
		upgrader: ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		peers:    make(map[core.PartyID]*peer),
	}
}

// Peers returns the connected party ids, sorted.
func (h *Hub) Peers() []core.PartyID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.PartyID, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ServeHTTP upgrades the request and serves the party until it disconnects.
// A party reconnecting under the same id replaces its previous connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.URL.Query().Get("secret") != h.secret {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}
	party := core.PartyID(r.URL.Query().Get("party"))
	if party == "" {
		http.Error(w, "party required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Hub upgrade failed", "party", string(party), "error", err)
		return
	}

	p := &peer{id: party, conn: conn, sendCh: make(chan []byte, sendChSize), done: make(chan struct{})}
	h.register(p)
	defer h.unregister(p)

	go p.writeLoop(h.log)

	ack, _ := json.Marshal(AckMessage{Type: TypeAck, For: ackJoin})
	p.sendCh <- ack

	h.readLoop(p)
}

// Close disconnects every party.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[core.PartyID]*peer)
	h.mu.Unlock()
	for _, p := range peers {
		p.stop()
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	old := h.peers[p.id]
	h.peers[p.id] = p
	h.mu.Unlock()
	if old != nil {
		old.stop()
	}
	h.log.Info("Party connected", "party", string(p.id))
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	if h.peers[p.id] == p {
		delete(h.peers, p.id)
	}
	h.mu.Unlock()
	p.stop()
	h.log.Info("Party disconnected", "party", string(p.id))
}

func (h *Hub) readLoop(p *peer) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var env streaming.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Debug("Hub dropped malformed frame", "party", string(p.id), "error", err)
			continue
		}
		env.From = p.id
		h.route(env)
	}
}

// route forwards env to its target, or to every party when To is empty.
func (h *Hub) route(env streaming.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(p *peer) {
		select {
		case p.sendCh <- data:
		case <-p.done:
		default:
			h.log.Warn("Hub send queue full, dropping", "party", string(p.id), "type", env.Type)
		}
	}

	if env.To != "" {
		if p, ok := h.peers[env.To]; ok {
			deliver(p)
		}
		return
	}
	for _, p := range h.peers {
		deliver(p)
	}
}
