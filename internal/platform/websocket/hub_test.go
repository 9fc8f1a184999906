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

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/auth"
	"github.com/vivamoms/consult/internal/platform/notification"
)

func newClient(userID uuid.UUID) *Client {
	return &Client{ID: uuid.New().String(), UserID: userID, Send: make(chan []byte, sendBuffer)}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	user := uuid.New()
	a, b := newClient(user), newClient(user)

	hub.Register(a)
	hub.Register(b)
	if hub.ClientCount() != 2 || hub.UserConnections(user) != 2 {
		t.Fatalf("expected 2 connections, got %d/%d", hub.ClientCount(), hub.UserConnections(user))
	}

	hub.Unregister(a)
	hub.Unregister(a)
	if hub.UserConnections(user) != 1 {
		t.Fatalf("expected 1 connection, got %d", hub.UserConnections(user))
	}
	if _, ok := <-a.Send; ok {
		t.Error("expected Send to be closed after unregister")
	}
}

func TestHub_PublishTargetsOneUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	chw, doctor := uuid.New(), uuid.New()
	cc, dc := newClient(chw), newClient(doctor)
	hub.Register(cc)
	hub.Register(dc)

	ev := notification.Event{Type: notification.EventConsultationAssigned, TargetUserID: chw}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-cc.Send:
		var got notification.Event
		if err := json.Unmarshal(data, &got); err != nil || got.Type != notification.EventConsultationAssigned {
			t.Errorf("unexpected frame %s (%v)", data, err)
		}
	default:
		t.Fatal("expected chw to receive the event")
	}
	select {
	case data := <-dc.Send:
		t.Fatalf("doctor should not receive chw event, got %s", data)
	default:
	}
}

func TestHub_PublishWithoutConnections(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ev := notification.Event{Type: notification.EventMessageNew, TargetUserID: uuid.New()}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Errorf("expected nil error for offline user, got %v", err)
	}
}

func TestHub_FullBufferDropsFrame(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	user := uuid.New()
	c := &Client{ID: "slow", UserID: user, Send: make(chan []byte, 1)}
	hub.Register(c)

	if n := hub.Broadcast(Topic(user), []byte("1")); n != 1 {
		t.Fatalf("expected first frame delivered, got %d", n)
	}
	if n := hub.Broadcast(Topic(user), []byte("2")); n != 0 {
		t.Fatalf("expected second frame dropped, got %d", n)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(uuid.New())
			hub.Register(c)
			hub.Broadcast(Topic(c.UserID), []byte("x"))
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RequiresActor(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	if err := h.HandleConnect(e.NewContext(req, rec)); err == nil {
		t.Fatal("expected error without an authenticated actor")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	user := uuid.New()

	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := access.Actor{ID: user, Role: access.RoleDoctor, IsActive: true}
			c.SetRequest(c.Request().WithContext(auth.WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	})
	NewHandler(hub, nil).RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.UserConnections(user) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.UserConnections(user) != 1 {
		t.Fatal("expected the connection to be registered for the user")
	}

	ev := notification.Event{Type: notification.EventConsultationStarted, TargetUserID: user}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received notification.Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != notification.EventConsultationStarted {
		t.Fatalf("expected %s, got %s", notification.EventConsultationStarted, received.Type)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong map[string]string
	if err := conn.ReadJSON(&pong); err != nil || pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v (%v)", pong, err)
	}
}
