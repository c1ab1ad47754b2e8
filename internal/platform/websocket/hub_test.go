package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/internal/platform/notify"
)

const roomID = "7d4e0a52-5c1e-4d7a-9a55-0c6f3b1f2a10"

func newClient(id string, actor auth.Actor, topics ...string) *Client {
	return &Client{ID: id, Actor: actor, Topics: topics, Send: make(chan []byte, 8)}
}

var nurse = auth.Actor{ID: "nurse-1", Roles: []string{auth.RoleNurse}, Department: "GENSURG"}

func roomChanged() notify.Message {
	return notify.Message{
		Kind:     notify.RoomStatusChanged,
		Audience: notify.Audience{Roles: []string{auth.RoleAdmin, auth.RoleNurse}},
		Subject:  "OR 1 is ongoing",
		Data:     map[string]string{"room_id": roomID, "room": "OR 1", "state": "ongoing"},
		At:       time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
}

func drain(c *Client) []Event {
	var out []Event
	for {
		select {
		case data := <-c.Send:
			var ev Event
			_ = json.Unmarshal(data, &ev)
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", nurse, TopicBoard, RoomTopic(roomID))
	hub.Register(c)

	if hub.ClientCount() != 1 || hub.TopicCount(TopicBoard) != 1 || hub.TopicCount(RoomTopic(roomID)) != 1 {
		t.Fatalf("unexpected counts %d/%d", hub.ClientCount(), hub.TopicCount(TopicBoard))
	}

	hub.Unregister(c)
	if hub.ClientCount() != 0 || hub.TopicCount(TopicBoard) != 0 {
		t.Fatal("expected the client to be gone")
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected Send to be closed")
	}
	// A second unregister is a no-op.
	hub.Unregister(c)
}

func TestTopicsFor(t *testing.T) {
	msg := notify.Message{Data: map[string]string{"room_id": roomID, "date": "2026-10-20", "department": "ortho"}}
	got := topicsFor(msg)
	want := []string{TopicBoard, RoomTopic(roomID), DateTopic("2026-10-20"), "department/ORTHO"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := topicsFor(notify.Message{}); len(got) != 1 || got[0] != TopicBoard {
		t.Errorf("expected board only, got %v", got)
	}
}

func TestVisible(t *testing.T) {
	staff := auth.Actor{ID: "staff-9", Roles: []string{auth.RoleStaff}, Department: "ORTHO"}
	admin := auth.Actor{ID: "admin-1", Roles: []string{auth.RoleAdmin}}
	tests := []struct {
		name string
		aud  notify.Audience
		a    auth.Actor
		want bool
	}{
		{"everyone", notify.Audience{Everyone: true}, staff, true},
		{"role match", notify.Audience{Roles: []string{auth.RoleNurse}}, nurse, true},
		{"role miss", notify.Audience{Roles: []string{auth.RoleNurse}}, staff, false},
		{"user match", notify.Audience{Users: []string{"staff-9"}}, staff, true},
		{"department match", notify.Audience{Departments: []string{"ortho"}}, staff, true},
		{"department miss", notify.Audience{Departments: []string{"ENT"}}, staff, false},
		{"admin sees all", notify.Audience{Users: []string{"someone"}}, admin, true},
		{"empty audience", notify.Audience{}, staff, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := visible(tt.aud, tt.a); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHub_NotifyRoutesByTopicAndAudience(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	roomWatcher := newClient("room", nurse, RoomTopic(roomID))
	board := newClient("board", nurse, TopicBoard, RoomTopic(roomID))
	other := newClient("other", nurse, RoomTopic("another-room"))
	staff := newClient("staff", auth.Actor{ID: "s", Roles: []string{auth.RoleStaff}}, TopicBoard)
	for _, c := range []*Client{roomWatcher, board, other, staff} {
		hub.Register(c)
	}

	if err := hub.Notify(context.Background(), roomChanged()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if got := drain(roomWatcher); len(got) != 1 || got[0].Kind != string(notify.RoomStatusChanged) || got[0].Data["state"] != "ongoing" {
		t.Errorf("room watcher got %+v", got)
	}
	if got := drain(board); len(got) != 1 {
		t.Errorf("a client on two matching topics gets one event, got %d", len(got))
	}
	if got := drain(other); len(got) != 0 {
		t.Errorf("other room watcher got %+v", got)
	}
	if got := drain(staff); len(got) != 0 {
		t.Errorf("staff outside the audience got %+v", got)
	}
}

func TestHub_NotifySkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Actor: nurse, Topics: []string{TopicBoard}, Send: make(chan []byte, 1)}
	hub.Register(c)

	for i := 0; i < 3; i++ {
		if err := hub.Notify(context.Background(), roomChanged()); err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	if got := drain(c); len(got) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(got))
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c", nurse, TopicBoard)
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{RoomTopic(roomID), RoomTopic(roomID), ""}})
	if hub.TopicCount(RoomTopic(roomID)) != 1 || len(c.Topics) != 2 {
		t.Fatalf("subscribe: topics %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{TopicBoard}})
	if hub.TopicCount(TopicBoard) != 0 || len(c.Topics) != 1 || c.Topics[0] != RoomTopic(roomID) {
		t.Fatalf("unsubscribe: topics %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "shout", Topics: []string{"x"}})
	if len(c.Topics) != 1 {
		t.Errorf("unknown action changed topics: %v", c.Topics)
	}
}

func TestHub_ConcurrentRegisterNotify(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient("c", nurse, TopicBoard)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			_ = hub.Notify(context.Background(), roomChanged())
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/live", nil), rec)

	if err := h.Connect(c); err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected the upgrade to fail for a plain request")
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"https://or.example"})
	req := httptest.NewRequest(http.MethodGet, "/live", nil)

	req.Header.Set("Origin", "https://or.example")
	if !h.upgrader.CheckOrigin(req) {
		t.Error("expected the configured origin to pass")
	}
	req.Header.Set("Origin", "https://evil.example")
	if h.upgrader.CheckOrigin(req) {
		t.Error("expected a foreign origin to be refused")
	}

	open := NewHandler(NewHub(zerolog.Nop()), []string{"*"})
	if !open.upgrader.CheckOrigin(req) {
		t.Error("expected * to accept any origin")
	}
}

func TestHandler_LiveFeedEndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware(auth.JWTConfig{}))
	NewHandler(hub, nil).RegisterRoutes(api)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/live?topics=" + RoomTopic(roomID)
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(RoomTopic(roomID)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(RoomTopic(roomID)) != 1 {
		t.Fatal("expected the client to be subscribed to its room")
	}

	if err := hub.Notify(context.Background(), roomChanged()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != string(notify.RoomStatusChanged) || got.Data["room"] != "OR 1" {
		t.Errorf("unexpected event %+v", got)
	}
}
