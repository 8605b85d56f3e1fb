// Package feed pushes payment lifecycle transitions to connected
// websocket clients, keyed by wallet address. Delivery is best-effort;
// a slow client is dropped rather than back-pressuring the payment
// path.
package feed

import (
	"sync/atomic"
	"time"
)

// Event is one lifecycle transition as seen by the mirror.
type Event struct {
	MessageID   string    `json:"messageId"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Status      string    `json:"status"`
	Amount      string    `json:"amount"`
	TxSignature string    `json:"txSignature,omitempty"`
	At          time.Time `json:"at"`
}

// Hub owns the client registry. All registry access happens on the Run
// goroutine.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan Event
	count      atomic.Int64
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan Event, 64),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			conns := h.clients[c.wallet]
			if conns == nil {
				conns = make(map[*Client]bool)
				h.clients[c.wallet] = conns
			}
			conns[c] = true
			h.count.Add(1)
		case c := <-h.unregister:
			h.drop(c)
		case evt := <-h.events:
			h.fanout(evt)
		}
	}
}

// Publish queues evt without blocking. When the buffer is full the
// event is dropped; the mirror remains the source of truth.
func (h *Hub) Publish(evt Event) {
	select {
	case h.events <- evt:
	default:
	}
}

// ClientCount reports connected clients. Safe from any goroutine.
func (h *Hub) ClientCount() int64 {
	return h.count.Load()
}

func (h *Hub) fanout(evt Event) {
	h.deliver(evt.Sender, evt)
	if evt.Recipient != evt.Sender {
		h.deliver(evt.Recipient, evt)
	}
}

func (h *Hub) deliver(wallet string, evt Event) {
	for c := range h.clients[wallet] {
		select {
		case c.send <- evt:
		default:
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	conns, ok := h.clients[c.wallet]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	h.count.Add(-1)
	if len(conns) == 0 {
		delete(h.clients, c.wallet)
	}
}
