// Package websocket pushes scheduling notifications to browsers over
// WebSockets. Clients subscribe to topics (the whole board, one room, one
// date or one department) and receive every notification that touches a
// subscribed topic and whose audience includes them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/internal/platform/notify"
)

// TopicBoard receives every notification.
const TopicBoard = "board"

// Event is what a client receives for one notification.
type Event struct {
	Kind    string            `json:"kind"`
	Topics  []string          `json:"topics"`
	Subject string            `json:"subject,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
	At      time.Time         `json:"at"`
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected browser.
type Client struct {
	ID     string
	Actor  auth.Actor
	Topics []string
	Send   chan []byte
	conn   Conn
}

// Hub tracks clients and their topic subscriptions. It implements
// notify.Notifier so the dispatcher can fan notifications out to it.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		log:     log,
	}
}

// RoomTopic, DateTopic and DepartmentTopic name the narrower feeds.
func RoomTopic(roomID string) string { return "room/" + roomID }

func DateTopic(date string) string { return "date/" + date }

func DepartmentTopic(dept string) string { return "department/" + strings.ToUpper(dept) }

// topicsFor lists the topics a notification belongs to.
func topicsFor(msg notify.Message) []string {
	topics := []string{TopicBoard}
	if id := msg.Data["room_id"]; id != "" {
		topics = append(topics, RoomTopic(id))
	}
	if d := msg.Data["date"]; d != "" {
		topics = append(topics, DateTopic(d))
	}
	if dept := msg.Data["department"]; dept != "" {
		topics = append(topics, DepartmentTopic(dept))
	}
	return topics
}

// visible reports whether a is among the people aud addresses.
// Administrators see everything.
func visible(aud notify.Audience, a auth.Actor) bool {
	if aud.Everyone || a.IsAdmin() {
		return true
	}
	for _, r := range aud.Roles {
		if a.HasRole(r) {
			return true
		}
	}
	for _, u := range aud.Users {
		if u != "" && u == a.ID {
			return true
		}
	}
	for _, d := range aud.Departments {
		if a.Department != "" && strings.EqualFold(d, a.Department) {
			return true
		}
	}
	return false
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.add(topic, client)
	}
}

func (h *Hub) add(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) remove(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Unregister drops the client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.remove(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if topic == "" || h.has(client, topic) {
			continue
		}
		h.add(topic, client)
		client.Topics = append(client.Topics, topic)
	}
}

func (h *Hub) has(client *Client, topic string) bool {
	_, ok := h.clients[topic][client]
	return ok
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		drop[t] = struct{}{}
		h.remove(t, client)
	}
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := drop[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Notify delivers msg once to every client subscribed to one of its topics
// and included in its audience. Slow clients with a full buffer miss it.
func (h *Hub) Notify(_ context.Context, msg notify.Message) error {
	topics := topicsFor(msg)
	data, err := json.Marshal(Event{
		Kind:    string(msg.Kind),
		Topics:  topics,
		Subject: msg.Subject,
		Data:    msg.Data,
		At:      msg.At,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := make(map[*Client]struct{})
	for _, topic := range topics {
		for client := range h.clients[topic] {
			if _, dup := sent[client]; dup {
				continue
			}
			sent[client] = struct{}{}
			if !visible(msg.Audience, client.Actor) {
				continue
			}
			select {
			case client.Send <- data:
			default:
				h.log.Warn().Str("client", client.ID).Str("kind", string(msg.Kind)).Msg("live client buffer full, event dropped")
			}
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Handler upgrades GET /live to a WebSocket bound to the hub.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts upgrades from the listed origins; "*" or an empty list
// accepts any origin.
func NewHandler(hub *Hub, origins []string) *Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	_, anyOrigin := allowed["*"]
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || anyOrigin || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/live", h.Connect, auth.RequireAuthenticated())
}

// Connect registers the caller with the topics named in ?topics= (comma
// separated, default board) and starts its read and write pumps.
func (h *Handler) Connect(c echo.Context) error {
	topics := []string{TopicBoard}
	if q := c.QueryParam("topics"); q != "" {
		topics = topics[:0]
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	actor := auth.ActorFromContext(c.Request().Context())

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.NewString(),
		Actor:  actor,
		Topics: topics,
		Send:   make(chan []byte, 256),
		conn:   ws,
	}
	h.hub.Register(client)
	h.hub.log.Info().Str("client", client.ID).Str("actor", actor.ID).Strs("topics", topics).Msg("live client connected")

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
