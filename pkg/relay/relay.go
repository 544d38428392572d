// Package relay is the server side of the classroom: it relays the
// signaling messages between the two participants of a session and keeps
// their saved whiteboards.
package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/giongto35/cloud-classroom/pkg/classroom"
	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/network/httpx"
	"github.com/giongto35/cloud-classroom/pkg/network/websocket"
	"github.com/giongto35/cloud-classroom/pkg/persistence"
	"github.com/giongto35/cloud-classroom/pkg/storage"
	"github.com/giongto35/cloud-classroom/pkg/webrtc"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type Deps struct {
	Storage storage.Storage
	// Bookings is optional, without it the session token is enough.
	Bookings Bookings
	// Presence is optional, the local connections are listed without it.
	Presence   Presence
	Registerer prometheus.Registerer
}

type Relay struct {
	conf     config.Relay
	hub      *Hub
	st       storage.Storage
	bookings Bookings
	presence Presence
	metrics  *metrics
	router   *gin.Engine
	log      *logger.Logger
}

func New(conf config.Relay, deps Deps, debug bool, log *logger.Logger) (*Relay, error) {
	if deps.Storage == nil {
		return nil, errors.New("relay: no storage")
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.Module("relay")
	if conf.JwtSecret == "" {
		log.Warn().Msg("No JWT secret, participants are not authenticated")
	}

	m := newMetrics(deps.Registerer)
	r := &Relay{
		conf:     conf,
		hub:      NewHub(deps.Presence, m, log),
		st:       deps.Storage,
		bookings: deps.Bookings,
		presence: deps.Presence,
		metrics:  m,
		log:      log,
	}

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), r.requestLog(), originFilter(conf.AllowedOrigins))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/ice", r.iceServers)

	sessions := router.Group("/sessions/:id", r.checkId, authorize(conf.JwtSecret), r.admit)
	{
		sessions.GET("/whiteboard", r.loadBoard)
		sessions.PUT("/whiteboard", r.saveBoard)
		sessions.DELETE("/whiteboard", r.clearBoard)
		sessions.GET("/presence", r.online)
	}
	router.GET("/ws/sessions/:id", r.checkId, authorize(conf.JwtSecret), r.admit, r.socket)

	r.router = router
	return r, nil
}

func (r *Relay) Handler() http.Handler { return r.router }

// Close drops every participant connection.
func (r *Relay) Close() { r.hub.Close() }

func (r *Relay) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	}
}

// originFilter answers CORS requests of the listed origins and rejects
// other ones, an empty list allows any origin.
func originFilter(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		ok := len(allowed) == 0
		for _, o := range allowed {
			if origin == o {
				ok = true
				break
			}
		}
		if !ok && origin != "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		if origin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Md5, Authorization")
			h.Set("Access-Control-Expose-Headers", "Content-Md5")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (r *Relay) checkId(c *gin.Context) {
	if err := storage.CheckKey(c.Param("id")); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	c.Next()
}

// admit checks the participant against the booking of the session.
func (r *Relay) admit(c *gin.Context) {
	if r.bookings == nil {
		c.Next()
		return
	}
	s, err := r.bookings.Booking(c.Request.Context(), c.GetString(keySession))
	switch {
	case errors.Is(err, ErrNoBooking):
		abort(c, http.StatusNotFound, err)
		return
	case err != nil:
		r.log.Error().Err(err).Msg("Bookings")
		abort(c, http.StatusServiceUnavailable, err)
		return
	case !s.Has(c.GetString(keyParticipant)):
		abort(c, http.StatusForbidden, classroom.ErrNotParticipant)
		return
	}
	c.Next()
}

func (r *Relay) iceServers(c *gin.Context) {
	host := c.Request.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	c.JSON(http.StatusOK, webrtc.ExpandIceServers(r.conf.IceServers, webrtc.Replacement{From: "host", To: host}))
}

func (r *Relay) socket(c *gin.Context) {
	session, participant := c.GetString(keySession), c.GetString(keyParticipant)
	if !r.hub.Admits(session, participant) {
		abort(c, http.StatusConflict, ErrSessionFull)
		return
	}
	sock, err := websocket.NewServer(c.Writer, c.Request, r.conf.AllowedOrigins, r.log)
	if err != nil {
		r.log.Warn().Err(err).Msg("Websocket upgrade")
		return
	}
	p := &peer{id: uuid.NewString(), session: session, participant: participant, sock: sock}
	sock.OnMessage = func(data []byte) { r.hub.Forward(p, data) }
	if err := r.hub.Join(p); err != nil {
		r.log.Warn().Err(err).Str("pid", participant).Msg("Rejected")
		sock.Start()
		sock.Close()
		return
	}
	sock.Start()
	go func() {
		<-sock.Done()
		r.hub.Leave(p)
	}()
}

func (r *Relay) online(c *gin.Context) {
	session := c.GetString(keySession)
	list := r.hub.Online(session)
	if r.presence != nil {
		all, err := r.presence.Online(c.Request.Context(), session)
		if err != nil {
			r.log.Warn().Err(err).Msg("Presence")
		} else {
			list = all
		}
	}
	c.JSON(http.StatusOK, gin.H{"online": list})
}

func (r *Relay) countSnapshot(c *gin.Context) {
	r.metrics.snapshots.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
}

func (r *Relay) loadBoard(c *gin.Context) {
	defer r.countSnapshot(c)
	data, err := r.st.Load(c.Request.Context(), c.GetString(keySession))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		abort(c, http.StatusNotFound, err)
		return
	case err != nil:
		r.log.Error().Err(err).Msg("Whiteboard load")
		abort(c, http.StatusBadGateway, err)
		return
	}
	c.Header("Content-Md5", storage.ContentMd5(data))
	c.Data(http.StatusOK, "application/json", data)
}

func (r *Relay) saveBoard(c *gin.Context) {
	defer r.countSnapshot(c)
	body := io.Reader(c.Request.Body)
	if r.conf.MaxSnapshotSize > 0 {
		body = http.MaxBytesReader(c.Writer, c.Request.Body, r.conf.MaxSnapshotSize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			abort(c, http.StatusRequestEntityTooLarge, err)
			return
		}
		abort(c, http.StatusBadRequest, err)
		return
	}
	if sum := c.GetHeader("Content-Md5"); sum != "" && sum != storage.ContentMd5(data) {
		abort(c, http.StatusBadRequest, errors.New("checksum mismatch"))
		return
	}
	if _, err := persistence.Decode(data); err != nil {
		abort(c, http.StatusUnprocessableEntity, err)
		return
	}
	if err := r.st.Save(c.Request.Context(), c.GetString(keySession), data); err != nil {
		r.log.Error().Err(err).Msg("Whiteboard save")
		abort(c, http.StatusBadGateway, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (r *Relay) clearBoard(c *gin.Context) {
	defer r.countSnapshot(c)
	err := r.st.Delete(c.Request.Context(), c.GetString(keySession))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.log.Error().Err(err).Msg("Whiteboard delete")
		abort(c, http.StatusBadGateway, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Server runs the relay over HTTP(S).
type Server struct {
	*httpx.Server
	relay *Relay
}

func NewServer(conf config.Server, relay *Relay, log *logger.Logger) (*Server, error) {
	s, err := httpx.NewServer(conf.Address,
		func(*httpx.Server) httpx.Handler { return relay.Handler() },
		httpx.WithServerConfig(conf),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return &Server{Server: s, relay: relay}, nil
}

// Shutdown closes the sockets first, the HTTP server doesn't track them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.relay.Close()
	return s.Server.Shutdown(ctx)
}
