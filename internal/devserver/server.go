package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/deskwire/deskwire-client/pkg/logging"
	"github.com/deskwire/deskwire-client/pkg/transport"
)

// Responder produces the ack payload for a correlated request type. Returning
// false suppresses the ack for that request.
type Responder func(req *transport.Message) (payload any, ok bool)

// Server is a loopback stand-in for the session backend, used by wireprobe
// and the transport test suite. It acks every correlated request by echoing
// its id and can broadcast to all connected sessions.
type Server struct {
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu         sync.Mutex
	sessions   map[*session]struct{}
	responders map[transport.MessageType]Responder
	received   []transport.Message
	hellos     []transport.HelloPayload
	silent     bool
}

type Option func(*Server)

// WithSilent suppresses all acks, which lets clients exercise their request
// timeout path.
func WithSilent() Option {
	return func(s *Server) {
		s.silent = true
	}
}

// WithResponder installs a per-type ack payload.
func WithResponder(msgType transport.MessageType, fn Responder) Option {
	return func(s *Server) {
		s.responders[msgType] = fn
	}
}

func New(logger logging.Logger, opts ...Option) *Server {
	s := &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions:   make(map[*session]struct{}),
		responders: make(map[transport.MessageType]Responder),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns a gin engine serving the websocket endpoint on /ws.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/ws", s.handleWS)
	return r
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	sess := &session{
		conn:   conn,
		send:   make(chan outbound, 64),
		server: s,
	}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.logger.Infof("session connected from %s", conn.RemoteAddr())

	go sess.writePump()
	sess.readPump()
}

// Broadcast sends a non-correlated message to every connected session.
func (s *Server) Broadcast(msgType transport.MessageType, payload any) error {
	msg, err := transport.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		sess.enqueue(outbound{msg: msg})
	}
	return nil
}

// BroadcastRaw writes raw bytes to every session. Used to exercise client
// handling of malformed input.
func (s *Server) BroadcastRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		sess.enqueue(outbound{raw: data})
	}
}

// CloseSessions drops every connected session without a close handshake, as
// an abruptly dying backend would.
func (s *Server) CloseSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Received returns a copy of every message read so far, in arrival order.
func (s *Server) Received() []transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Message(nil), s.received...)
}

// Hellos returns the handshake payloads received so far.
func (s *Server) Hellos() []transport.HelloPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.HelloPayload(nil), s.hellos...)
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
	close(sess.send)
}

// record stores an inbound message and returns the ack to send, if any.
func (s *Server) record(msg *transport.Message) *transport.Message {
	s.mu.Lock()
	s.received = append(s.received, *msg)

	if msg.Type == transport.TypeConnectionHello {
		var hello transport.HelloPayload
		if err := msg.DecodePayload(&hello); err == nil {
			s.hellos = append(s.hellos, hello)
		}
		s.mu.Unlock()
		return nil
	}

	if msg.ID == "" || s.silent {
		s.mu.Unlock()
		return nil
	}
	responder := s.responders[msg.Type]
	s.mu.Unlock()

	var payload any = map[string]string{"status": "ok"}
	if responder != nil {
		custom, ok := responder(msg)
		if !ok {
			return nil
		}
		payload = custom
	}
	ack, err := transport.NewMessage(msg.Type, payload)
	if err != nil {
		s.logger.Errorf("failed to build ack for %s: %v", msg.Type, err)
		return nil
	}
	ack.ID = msg.ID
	return ack
}

// outbound is one frame to write: a structured message or raw bytes.
type outbound struct {
	msg *transport.Message
	raw []byte
}

type session struct {
	conn   *websocket.Conn
	send   chan outbound
	server *Server
}

func (sess *session) readPump() {
	defer sess.server.dropSession(sess)

	for {
		var msg transport.Message
		if err := sess.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.server.logger.Warnf("session read ended: %v", err)
			}
			return
		}
		if ack := sess.server.record(&msg); ack != nil {
			sess.enqueue(outbound{msg: ack})
		}
	}
}

func (sess *session) writePump() {
	defer func() {
		_ = sess.conn.Close()
	}()
	for out := range sess.send {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		var err error
		if out.raw != nil {
			err = sess.conn.WriteMessage(websocket.TextMessage, out.raw)
		} else {
			err = sess.conn.WriteJSON(out.msg)
		}
		if err != nil {
			sess.server.logger.Warnf("session write failed: %v", err)
			return
		}
	}
}

func (sess *session) enqueue(out outbound) {
	select {
	case sess.send <- out:
	default:
		sess.server.logger.Warnf("session send buffer full, dropping connection")
		_ = sess.conn.Close()
	}
}
