package bridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cueso-tv/cueso/pkg/chat"
	"github.com/cueso-tv/cueso/pkg/driver"
	"github.com/cueso-tv/cueso/pkg/session"
)

const (
	closeCodeOriginNotAllowed = 4003

	defaultPingInterval   = 30 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultMaxMessageSize = 65536
)

// Config seeds a Server's websocket tunables and the SessionConfig
// newly created sessions are born with.
type Config struct {
	AllowedOrigins []string // empty means allow any origin

	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	DefaultSessionConfig chat.SessionConfig
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

// Server hosts the websocket chat channel and the session REST surface
// on one echo instance. One Server serves every connection; each
// connection binds its turns to the same shared Driver and Store.
type Server struct {
	cfg      Config
	echo     *echo.Echo
	driver   *driver.Driver
	store    *session.Store
	registry *registry
	upgrader websocket.Upgrader
}

// NewServer builds a Server. d and store are shared with the rest of
// the process (cmd/cueso-server wires them once at startup).
func NewServer(d *driver.Driver, store *session.Store, cfg Config) *Server {
	cfg = cfg.withDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		cfg:      cfg,
		echo:     e,
		driver:   d,
		store:    store,
		registry: newRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	e.GET("/ws", s.handleWebSocket)
	e.GET("/health", s.handleHealth)
	e.POST("/sessions/:id/reset", s.handleResetSession)
	e.GET("/sessions", s.handleListSessions)
	e.DELETE("/sessions/:id", s.handleDeleteSession)

	return s
}

// Start runs the echo server, blocking until it stops.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the echo server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.registry.count(),
		"sessions":    len(s.store.List()),
	})
}

func (s *Server) handleResetSession(c echo.Context) error {
	id := c.Param("id")
	if !s.store.Reset(id) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": s.store.List()})
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	s.store.Delete(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) originAllowed(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(c echo.Context) error {
	originOK := s.originAllowed(c.Request())

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("bridge: websocket upgrade failed: %v", err)
		return err
	}

	if !originOK {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		closeMsg := websocket.FormatCloseMessage(closeCodeOriginNotAllowed, "origin not allowed")
		_ = ws.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		_ = ws.Close()
		return nil
	}

	conn := newConnection(uuid.New().String(), ws)
	s.registry.add(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump(conn, cancel)
	go s.readPump(ctx, conn, cancel)

	return nil
}

func (s *Server) readPump(ctx context.Context, conn *Connection, cancel context.CancelFunc) {
	defer func() {
		cancel()
		s.registry.remove(conn)
		_ = conn.Conn.Close()
	}()

	_ = conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("bridge: websocket read error: %v", err)
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleClientMessage(ctx, conn, data)
		}()
	}
}

func (s *Server) writePump(conn *Connection, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("bridge: websocket write error: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(ctx context.Context, conn *Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "invalid JSON message")
		return
	}
	if strings.TrimSpace(msg.Message) == "" {
		s.sendError(conn, "message must not be empty")
		return
	}

	sessionID := ""
	if msg.SessionID != nil {
		sessionID = *msg.SessionID
	}

	sess := s.store.GetOrCreate(sessionID, s.cfg.DefaultSessionConfig)
	s.send(conn, sessionCreatedEvent(sess.ID))

	ok, err := s.store.WithLock(sess.ID, func(sess *session.Session) error {
		return s.runTurn(ctx, conn, sess, msg.Message)
	})
	if !ok {
		s.sendError(conn, "session disappeared before the turn could run")
		return
	}
	if err != nil {
		s.sendError(conn, err.Error())
	}
}

func (s *Server) runTurn(ctx context.Context, conn *Connection, sess *session.Session, content string) error {
	userMessage := chat.Message{Role: chat.RoleUser, Content: content}

	for evt := range s.driver.Run(ctx, sess, userMessage) {
		switch evt.Type {
		case driver.EventContentDelta:
			s.send(conn, contentDeltaEvent(evt.Text))
		case driver.EventToolCallDelta:
			s.send(conn, toolCallDeltaEvent(evt.ToolCallID, evt.ToolCallName, evt.InputFragment))
		case driver.EventMessageComplete:
			s.send(conn, messageCompleteEvent(evt.Content, evt.ToolCallNames, string(evt.FinishReason)))
		case driver.EventToolResult:
			s.send(conn, toolResultEvent(evt.ToolName, evt.ToolCallID, evt.Result, evt.Error))
		case driver.EventFinal:
			s.send(conn, finalEvent(evt.Content, sess.ID, evt.IterationCount, evt.Paused, evt.ToolCallNames))
		}
	}
	return nil
}

func (s *Server) send(conn *Connection, evt wireEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("bridge: marshal wire event: %v", err)
		return
	}
	if !conn.enqueue(data) {
		log.Printf("bridge: connection %s send buffer full, dropping event", conn.ID)
	}
}

func (s *Server) sendError(conn *Connection, message string) {
	s.send(conn, errorEvent(message))
}
