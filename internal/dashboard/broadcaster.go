// Package dashboard fans domain lifecycle events out to connected
// websocket clients: a trade fill, a position opening or closing, a
// circuit breaker trip. Clients subscribe over internal/server's
// /events endpoint; events arrive from Postgres LISTEN/NOTIFY,
// published by the stores that own the transitions.
package dashboard

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Client is one connected websocket subscriber.
type Client struct {
	ID   string
	Send chan Message
}

// Message is the envelope delivered to every connected client.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Broadcaster fans a single stream of Messages out to any number of
// registered Clients. A slow client is dropped from a single
// broadcast rather than blocking the others.
type Broadcaster struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	log        zerolog.Logger
	done       chan struct{}
}

// NewBroadcaster creates a Broadcaster. Call Run in a goroutine to start it.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.With().Str("component", "dashboard").Logger(),
		done:       make(chan struct{}),
	}
}

// Register adds a client to the broadcast set.
func (b *Broadcaster) Register(c *Client) { b.register <- c }

// Unregister removes a client from the broadcast set and closes its Send channel.
func (b *Broadcaster) Unregister(c *Client) { b.unregister <- c }

// Broadcast queues msg for delivery to every currently registered client.
func (b *Broadcaster) Broadcast(msg Message) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format(time.RFC3339)
	}
	select {
	case b.broadcast <- msg:
	case <-b.done:
	}
}

// Run drives the broadcaster loop until Shutdown closes done.
func (b *Broadcaster) Run() {
	defer b.log.Info().Msg("broadcaster stopped")

	for {
		select {
		case c := <-b.register:
			b.mu.Lock()
			b.clients[c] = true
			n := len(b.clients)
			b.mu.Unlock()
			b.log.Debug().Int("clients", n).Msg("client registered")

		case c := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c.Send)
			}
			n := len(b.clients)
			b.mu.Unlock()
			b.log.Debug().Int("clients", n).Msg("client unregistered")

		case msg := <-b.broadcast:
			b.mu.RLock()
			clients := make([]*Client, 0, len(b.clients))
			for c := range b.clients {
				clients = append(clients, c)
			}
			b.mu.RUnlock()
			for _, c := range clients {
				select {
				case c.Send <- msg:
				default:
					b.log.Warn().Str("client", c.ID).Msg("send buffer full, dropping message for client")
				}
			}

		case <-b.done:
			return
		}
	}
}

// Shutdown closes every client connection and stops Run.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	for c := range b.clients {
		close(c.Send)
	}
	b.clients = make(map[*Client]bool)
	b.mu.Unlock()
	close(b.done)
}

// ClientCount returns the number of currently registered clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
