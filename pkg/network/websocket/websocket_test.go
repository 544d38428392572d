package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/logger"
)

func echoServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, nil, logger.Nop())
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws.OnMessage = func(m []byte) { _ = ws.Write(m) }
		ws.Start()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *WS {
	u, err := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := NewClient(ctx, *u, nil, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestEcho(t *testing.T) {
	srv := echoServer(t)
	client := dial(t, srv)

	got := make(chan string, 10)
	client.OnMessage = func(m []byte) { got <- string(m) }
	client.Start()

	for _, m := range []string{"a", "b", "c"} {
		if err := client.Write([]byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case m := <-got:
			if m != want {
				t.Errorf("got %v, want %v", m, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no echo for %v", want)
		}
	}

	client.Close()
	client.Close()
	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("socket is not closed")
	}
	if err := client.Write([]byte("late")); err != ErrClosed {
		t.Errorf("write after close: %v", err)
	}
	if client.Err() != nil {
		t.Errorf("normal close reported an error: %v", client.Err())
	}
}

func TestServerGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := NewServer(w, r, nil, logger.Nop())
		if err != nil {
			return
		}
		ws.Start()
		ws.Close()
	}))
	defer srv.Close()

	client := dial(t, srv)
	client.Start()
	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("client did not notice the server close")
	}
}

func TestUpgraderOrigins(t *testing.T) {
	up := Upgrader([]string{"https://classroom.example"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example")
	if up.CheckOrigin(r) {
		t.Errorf("foreign origin allowed")
	}
	r.Header.Set("Origin", "https://classroom.example")
	if !up.CheckOrigin(r) {
		t.Errorf("own origin rejected")
	}
	if !Upgrader(nil).CheckOrigin(r) {
		t.Errorf("empty list should allow any origin")
	}
}
