package api

import (
	"context"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/scada-hub/internal/infrastructure/config"
)

// dialWS opens a WebSocket connection to the server's push listener.
func dialWS(t *testing.T, srv *Server) (*websocket.Conn, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(srv.WSHandler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn, ts
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), want)
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return string(data)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	srv, _, _ := testServer(t)
	a, _ := dialWS(t, srv)
	b, _ := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 2)

	payload := `{"controller":"ctrl1","temperature":25.00,"level":50.00,"enabled":true}`
	if err := srv.Hub().Broadcast("ctrl1", []byte(payload)); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		if got := readText(t, conn); got != payload {
			t.Errorf("received %s, want %s", got, payload)
		}
	}
}

func TestHub_PingPong(t *testing.T) {
	srv, _, _ := testServer(t)
	conn, _ := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if got := readText(t, conn); got != `{"type":"pong"}` {
		t.Errorf("reply = %s, want pong", got)
	}
}

func TestHub_IgnoresOtherMessages(t *testing.T) {
	srv, _, _ := testServer(t)
	conn, _ := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 1)

	for _, msg := range []string{"hello", `{"type":"subscribe"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
	}
	// The connection stays open and still receives broadcasts
	_ = srv.Hub().Broadcast("ctrl1", []byte("tick"))
	if got := readText(t, conn); got != "tick" {
		t.Errorf("received %q, want tick", got)
	}
}

func TestHub_Disconnect(t *testing.T) {
	srv, _, _ := testServer(t)
	conn, _ := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 1)

	conn.Close()
	waitForClients(t, srv.Hub(), 0)

	// Broadcasting with nobody connected is fine
	if err := srv.Hub().Broadcast("ctrl1", []byte("tick")); err != nil {
		t.Errorf("Broadcast() error = %v", err)
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	srv, _, _ := testServer(t)
	_, _ = dialWS(t, srv) // never reads
	fast, _ := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < wsSendBufferSize*4; i++ {
			_ = srv.Hub().Broadcast("ctrl1", []byte("tick"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}

	if got := readText(t, fast); got != "tick" {
		t.Errorf("fast client received %q", got)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	srv, _, _ := testServer(t)
	conn, _ := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Hub().Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if srv.Hub().ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after shutdown", srv.Hub().ClientCount())
	}

	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still readable after hub shutdown")
	}

	// New connections are refused once the hub is closed
	late, _ := dialWS(t, srv)
	//nolint:errcheck // Test deadline
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("late client read error = %v, want close going away", err)
	}
}

func TestHub_BroadcastDuringDisconnects(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, testLogger())

	clients := make([]*wsClient, 50)
	for i := range clients {
		clients[i] = &wsClient{id: strconv.Itoa(i), hub: h, send: make(chan []byte, 1)}
		if !h.register(clients[i]) {
			t.Fatalf("register(%d) refused", i)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = h.Broadcast("ctrl1", []byte("tick"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range clients[:25] {
			h.unregister(c)
		}
		h.closeAll()
	}()
	wg.Wait()

	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", h.ClientCount())
	}
	for _, c := range clients {
		for range c.send { //nolint:revive // Drains until the hub's close
		}
		if h.sendTo(c, []byte("late")) {
			t.Errorf("sendTo(%s) succeeded after disconnect", c.id)
		}
	}
}

func TestNewHub_Defaults(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, testLogger())

	if h.pingInterval != defaultPingInterval || h.pongWait != defaultPongTimeout || h.maxMessageSize != defaultMaxMessageSize {
		t.Errorf("defaults = %v, %v, %d", h.pingInterval, h.pongWait, h.maxMessageSize)
	}
}
