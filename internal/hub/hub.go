package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/spaceshq/spaces-server/internal/config"
	"github.com/spaceshq/spaces-server/pkg/log"
)

// ErrUnknownConnection is returned by Emit when the connection is gone.
var ErrUnknownConnection = errors.New("unknown connection")

// Hub owns all live websocket clients and their channel subscriptions.
// Channels are plain strings ("space:general", "dm:ana|bruno"); the hub
// knows nothing about what they mean.
type Hub struct {
	clients    map[string]*Client            // connection ID -> client
	channels   map[string]map[string]*Client // channel -> connection ID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *channelMessage
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

type channelMessage struct {
	Channel string
	Message []byte
	ToAll   bool
}

// NewHub creates a hub. Call Run in its own goroutine before use.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		channels:   make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *channelMessage, 256),
		config:     cfg,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for channel, subs := range h.channels {
					delete(subs, client.ID)
					if len(subs) == 0 {
						delete(h.channels, channel)
					}
				}
				delete(h.clients, client.ID)
				client.closeSend()
			}
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := h.channels[msg.Channel]
			if msg.ToAll {
				targets = h.clients
			}
			for _, client := range targets {
				select {
				case client.Send <- msg.Message:
				default:
					go h.removeClient(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client and all its subscriptions.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds the connection to a channel. Unknown connections are a
// no-op: the client disconnected while the event was in flight.
func (h *Hub) Subscribe(connectionID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]*Client)
	}
	h.channels[channel][connectionID] = client
}

// Unsubscribe removes the connection from a channel.
func (h *Hub) Unsubscribe(connectionID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.channels[channel]; ok {
		delete(subs, connectionID)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Subscribed reports whether the connection is subscribed to the channel.
func (h *Hub) Subscribed(connectionID, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.channels[channel]
	if !ok {
		return false
	}
	_, ok = subs[connectionID]
	return ok
}

// Emit sends a message to one connection.
func (h *Hub) Emit(connectionID string, message interface{}) error {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return client.SendMessage(message)
}

// Broadcast sends a message to every subscriber of a channel.
func (h *Hub) Broadcast(channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.broadcast <- &channelMessage{Channel: channel, Message: data}
	return nil
}

// BroadcastAll sends a message to every connected client.
func (h *Hub) BroadcastAll(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.broadcast <- &channelMessage{Message: data, ToAll: true}
	return nil
}

func (h *Hub) removeClient(client *Client) {
	h.unregister <- client
}
