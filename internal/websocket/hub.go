package chatws

import (
	"log"

	"github.com/classbuddy/ClassBuddyBack/internal/metrics"
	"github.com/classbuddy/ClassBuddyBack/internal/models"
)

type envelope struct {
	conversationID int64
	payload        []byte
}

type directMessage struct {
	client  *Client
	payload []byte
}

// Hub owns the conversation groups. Only the Run goroutine touches groups;
// everything else talks to it over channels, and broadcasts are delivered in
// the order they were enqueued.
type Hub struct {
	groups     map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	direct     chan directMessage
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		groups:     make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
		direct:     make(chan directMessage, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.groups[client.conversationID]
			if !ok {
				set = make(map[*Client]struct{})
				h.groups[client.conversationID] = set
			}
			set[client] = struct{}{}
			metrics.ActiveSessions.Inc()
		case client := <-h.unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.deliver(message)
		case message := <-h.direct:
			h.sendToClient(message.client, message.payload)
		case <-h.done:
			return
		}
	}
}

// Stop ends Run. Pending sessions are left to their own pumps.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) PublishMessage(message *models.ChatMessage) {
	payload, err := encodeMessage(message)
	if err != nil {
		log.Printf("chat hub encode message: %v", err)
		return
	}
	h.enqueue(envelope{conversationID: message.ConversationID, payload: payload})
}

func (h *Hub) PublishTyping(status models.TypingStatus) {
	payload, err := encodeTyping(status)
	if err != nil {
		log.Printf("chat hub encode typing: %v", err)
		return
	}
	h.enqueue(envelope{conversationID: status.ConversationID, payload: payload})
}

// SendTo queues a payload for a single session.
func (h *Hub) SendTo(client *Client, payload []byte) {
	select {
	case h.direct <- directMessage{client: client, payload: payload}:
	case <-h.done:
	}
}

func (h *Hub) enqueue(message envelope) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

func (h *Hub) deliver(message envelope) {
	set, ok := h.groups[message.conversationID]
	if !ok {
		return
	}

	for client := range set {
		h.sendToClient(client, message.payload)
	}
}

// sendToClient never blocks; a session whose buffer is full is dropped.
func (h *Hub) sendToClient(client *Client, payload []byte) {
	set, ok := h.groups[client.conversationID]
	if !ok {
		return
	}
	if _, exists := set[client]; !exists {
		return
	}

	select {
	case client.send <- payload:
	default:
		log.Printf("chat hub: dropping slow session user=%d conversation=%d", client.userID, client.conversationID)
		metrics.BroadcastDrops.Inc()
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.groups[client.conversationID]
	if !ok {
		return
	}
	if _, exists := set[client]; exists {
		delete(set, client)
		close(client.send)
		metrics.ActiveSessions.Dec()
	}
	if len(set) == 0 {
		delete(h.groups, client.conversationID)
	}
}
