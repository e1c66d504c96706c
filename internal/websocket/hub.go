package websocket

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// publishBuffer bounds how many notifications may queue before Notify starts
// dropping them.
const publishBuffer = 256

type envelope struct {
	identityID string
	client     *Client // set for replies to a single connection
	data       []byte
}

// Hub maintains the set of active clients and pushes messages to the
// connections of one identity.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	publish chan envelope

	// A map of identity IDs to the set of their open connections.
	subscriptions map[string]map[*Client]bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		publish:       make(chan envelope, publishBuffer),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		done:          make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.Register:
			h.clients[client] = true
			h.addSubscription(client)
			log.Info().Int("total_clients", len(h.clients)).Msg("Client connected")
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case msg := <-h.publish:
			if msg.client != nil {
				if h.clients[msg.client] {
					h.deliver(msg.client, msg.data)
				}
				continue
			}
			for client := range h.subscriptions[msg.identityID] {
				h.deliver(client, msg.data)
			}
		}
	}
}

func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		// slow consumer
		h.drop(client)
	}
}

// Stop halts the Hub and closes every client's send channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Done is closed once Stop has been called.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Reply queues message for a single connection.
func (h *Hub) Reply(client *Client, message []byte) {
	select {
	case h.publish <- envelope{client: client, data: message}:
	default:
		log.Warn().Str("identity_id", client.IdentityID).Msg("Websocket publish queue full, dropping reply")
	}
}

// Notify queues message for every connection of identityID. It never
// blocks; when the queue is full the message is dropped.
func (h *Hub) Notify(identityID string, message []byte) {
	select {
	case h.publish <- envelope{identityID: identityID, data: message}:
	default:
		log.Warn().Str("identity_id", identityID).Msg("Websocket publish queue full, dropping notification")
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	if subs, ok := h.subscriptions[client.IdentityID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscriptions, client.IdentityID)
		}
	}
}

func (h *Hub) addSubscription(client *Client) {
	if h.subscriptions[client.IdentityID] == nil {
		h.subscriptions[client.IdentityID] = make(map[*Client]bool)
	}
	h.subscriptions[client.IdentityID][client] = true
}
