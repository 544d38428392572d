package signal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/network/websocket"
)

// Conn is one live transport connection.
type Conn interface {
	Write(data []byte) error
	Close()
	// Done is closed when the connection is gone for any reason.
	Done() <-chan struct{}
}

// Dialer opens connections to the relay. Incoming messages
// go to the handler in the order they arrive.
type Dialer interface {
	Dial(ctx context.Context, session, participant string, handler func([]byte)) (Conn, error)
}

// WsDialer connects to the relay over websocket.
type WsDialer struct {
	Address string
	Token   string
	log     *logger.Logger
}

func NewWsDialer(address, token string, log *logger.Logger) *WsDialer {
	return &WsDialer{Address: address, Token: token, log: log}
}

// Endpoint builds the session socket address of the relay.
func Endpoint(address, session, participant string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(address, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u = u.JoinPath("ws", "sessions", session)
	q := u.Query()
	q.Set("pid", participant)
	u.RawQuery = q.Encode()
	return u, nil
}

func (d *WsDialer) Dial(ctx context.Context, session, participant string, handler func([]byte)) (Conn, error) {
	u, err := Endpoint(d.Address, session, participant)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	ws, err := websocket.NewClient(ctx, *u, header, d.log)
	if err != nil {
		return nil, err
	}
	ws.OnMessage = handler
	ws.Start()
	return ws, nil
}
