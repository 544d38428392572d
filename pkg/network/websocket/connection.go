package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// conn puts a deadline on every write of the gorilla socket.
type conn struct {
	sock *websocket.Conn
	wt   time.Duration
}

// limit caps incoming frames. With a pong timeout set, the peer has to
// answer pings in time or the next read fails.
func (c *conn) limit(size int64, pong time.Duration) {
	c.sock.SetReadLimit(size)
	if pong <= 0 {
		return
	}
	extend := func(string) error { return c.sock.SetReadDeadline(time.Now().Add(pong)) }
	_ = extend("")
	c.sock.SetPongHandler(extend)
}

// read returns the next text frame, binary ones are skipped.
func (c *conn) read() ([]byte, error) {
	for {
		t, message, err := c.sock.ReadMessage()
		if err != nil || t == websocket.TextMessage {
			return message, err
		}
	}
}

func (c *conn) write(t int, mess []byte) error {
	if err := c.sock.SetWriteDeadline(time.Now().Add(c.wt)); err != nil {
		return err
	}
	return c.sock.WriteMessage(t, mess)
}

func (c *conn) close() error { return c.sock.Close() }
