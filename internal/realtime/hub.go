// Package realtime fans committed queue mutations out to connected
// display clients (e.g. a lobby screen) over sockjs, filtered by the
// subscription each client registered. It is additive to the spec's push
// notification path: the outbox feeds only this hub, while push
// notifications are sent by the engine directly after each commit.
package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

type Subscription struct {
	BusinessID string
	HelperID   string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action     string `json:"action"`
	BusinessID string `json:"business_id"`
	HelperID   string `json:"helper_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("realtime: drop message for client %s", client.ID)
		}
	}
}

func match(sub, meta Subscription) bool {
	if sub.BusinessID != "" && meta.BusinessID != sub.BusinessID {
		return false
	}
	if sub.HelperID != "" && meta.HelperID != sub.HelperID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
