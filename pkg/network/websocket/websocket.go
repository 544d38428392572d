package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/network"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 4 * 1024 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendBuffer     = 64
)

var ErrClosed = errors.New("websocket is closed")

// WS is a websocket connection with a single reader and a single writer.
type WS struct {
	id   network.Uid
	conn conn
	send chan []byte

	OnMessage MessageHandler

	pingPong bool

	mu     sync.Mutex
	closed bool
	once   sync.Once

	shutdown sync.WaitGroup
	done     chan struct{}
	err      error

	log *logger.Logger
}

type MessageHandler func(message []byte)

// Upgrader checks origins against the list, an empty list allows any origin.
func Upgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			o := r.Header.Get("Origin")
			for _, allowed := range origins {
				if o == allowed {
					return true
				}
			}
			return false
		},
	}
}

// NewServer upgrades an incoming HTTP request. Server sockets ping clients.
func NewServer(w http.ResponseWriter, r *http.Request, origins []string, log *logger.Logger) (*WS, error) {
	up := Upgrader(origins)
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

// NewClient dials the address, the context bounds the handshake only.
func NewClient(ctx context.Context, address url.URL, header http.Header, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, address.String(), header)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(c *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	if log == nil {
		log = logger.Default()
	}
	id := network.NewUid()
	ws := &WS{
		id:       id,
		conn:     conn{sock: c, wt: writeWait},
		send:     make(chan []byte, sendBuffer),
		pingPong: pingPong,
		done:     make(chan struct{}),
		log:      log.Extend(log.With().Str("ws", id.Short())),
	}
	ws.shutdown.Add(2)
	return ws
}

// Start runs the pumps. OnMessage must be set before.
func (ws *WS) Start() {
	go ws.writer()
	go ws.reader()
	go func() {
		ws.shutdown.Wait()
		_ = ws.conn.close()
		close(ws.done)
		ws.log.Debug().Msg("closed")
	}()
}

func (ws *WS) Id() network.Uid { return ws.id }

// Done is closed when both pumps have stopped.
func (ws *WS) Done() <-chan struct{} { return ws.done }

// Err returns the read error that stopped the socket, nil after a normal close.
func (ws *WS) Err() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.err
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, must be called as goroutine. Serializes all websocket reads.
func (ws *WS) reader() {
	defer func() {
		ws.stop()
		ws.shutdown.Done()
	}()
	var pong time.Duration
	if ws.pingPong {
		pong = pongTime
	}
	ws.conn.limit(maxMessageSize, pong)
	for {
		message, err := ws.conn.read()
		if err != nil {
			if !ws.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.mu.Lock()
				ws.err = err
				ws.mu.Unlock()
				ws.log.Warn().Err(err).Msg("read")
			}
			return
		}
		ws.log.Debug().Str(logger.DirectionField, logger.MarkIn).Int("size", len(message)).Msg("read")
		if ws.OnMessage != nil {
			ws.OnMessage(message)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes.
func (ws *WS) writer() {
	var tick <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer ws.shutdown.Done()
	for {
		select {
		case message, ok := <-ws.send:
			if !ok {
				_ = ws.conn.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = ws.conn.close()
				return
			}
			ws.log.Debug().Str(logger.DirectionField, logger.MarkOut).Int("size", len(message)).Msg("write")
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				ws.log.Warn().Err(err).Msg("write")
				ws.abort()
				return
			}
		case <-tick:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				ws.abort()
				return
			}
		}
	}
}

// abort closes a broken connection, pending writes are dropped.
func (ws *WS) abort() {
	_ = ws.conn.close()
	go ws.stop()
	for range ws.send {
	}
}

// Write queues the data, it fails after the socket was closed.
func (ws *WS) Write(data []byte) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	ws.send <- data
	return nil
}

// Close sends a close frame and stops the pumps.
func (ws *WS) Close() { ws.stop() }

func (ws *WS) stop() {
	ws.once.Do(func() {
		ws.mu.Lock()
		ws.closed = true
		close(ws.send)
		ws.mu.Unlock()
	})
}

func (ws *WS) isClosed() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closed
}
