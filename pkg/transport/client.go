package transport

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/deskwire/deskwire-client/pkg/logging"
	"github.com/deskwire/deskwire-client/pkg/transport/metrics"
)

const writeWait = 10 * time.Second

// Handler receives broadcast messages registered via On.
type Handler func(msg *Message)

// StatusListener is notified on every accepted status transition.
type StatusListener func(status Status, reconnectAttempt int)

type pendingRequest struct {
	p       *Pending
	msgType MessageType
	timer   *time.Timer
	started time.Time
}

type queuedOp struct {
	msgType MessageType
	payload any
	p       *Pending
}

type handlerEntry struct {
	key uintptr
	fn  Handler
}

type listenerEntry struct {
	id int
	fn StatusListener
}

// Client owns one socket connection to the session backend at a time. It
// correlates request/response pairs, queues sends while disconnected, and
// reconnects with a capped backoff schedule after unexpected drops.
//
// All exported methods are safe for concurrent use and none of them block on
// socket I/O.
type Client struct {
	cfg    Config
	logger logging.Logger
	faf    map[MessageType]struct{}

	mu               sync.Mutex
	status           Status
	reconnectAttempt int
	// gen invalidates pump goroutines and timers that outlive their
	// connection. It advances on every dial, teardown, and Disconnect.
	gen            int
	conn           *websocket.Conn
	sendCh         chan *Message
	reconnectTimer *time.Timer
	pending        map[string]*pendingRequest
	queue          []*queuedOp
	handlers       map[MessageType][]handlerEntry
	listeners      []listenerEntry
	nextListenerID int
}

// NewClient creates a transport client. It does not connect; call Connect.
func NewClient(cfg Config, logger logging.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	return &Client{
		cfg:      cfg,
		logger:   logger,
		faf:      cfg.fireAndForgetSet(),
		status:   StatusDisconnected,
		pending:  make(map[string]*pendingRequest),
		handlers: make(map[MessageType][]handlerEntry),
	}, nil
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ReconnectAttempt returns the current reconnect attempt counter. It is 0
// while connected or after an explicit Disconnect.
func (c *Client) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempt
}

// Connect opens the socket. It is a no-op while already connecting or
// connected; the existing socket is retained. Dialing happens off the
// caller's goroutine, so Connect returns immediately.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		return
	}
	c.stopReconnectTimerLocked()
	c.gen++
	gen := c.gen
	notify := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	c.fireStatus(notify)
	go c.dial(gen)
}

// Disconnect tears the client down: it cancels any scheduled reconnect,
// rejects every pending correlation and queued operation, closes the socket,
// and stops automatic reconnection until Connect is called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopReconnectTimerLocked()
	c.reconnectAttempt = 0

	for _, pr := range c.pending {
		pr.timer.Stop()
		pr.p.settle(nil, &DisconnectedError{Type: pr.msgType})
	}
	c.pending = make(map[string]*pendingRequest)
	metrics.RequestsInFlight.Set(0)

	for _, op := range c.queue {
		op.p.settle(nil, &DisconnectedError{Type: op.msgType})
	}
	c.queue = nil
	metrics.QueuedOperations.Set(0)

	c.teardownConnLocked()
	notify := c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	c.fireStatus(notify)
}

// Send transmits a message and returns a future that settles exactly once.
// Fire-and-forget types settle immediately with no value. Other types settle
// with the correlated response, a timeout error, or a disconnect error. While
// not connected the call is queued and replayed on the next successful open.
// Send never blocks.
func (c *Client) Send(msgType MessageType, payload any) *Pending {
	p := newPending()

	c.mu.Lock()
	if c.status != StatusConnected {
		c.queue = append(c.queue, &queuedOp{msgType: msgType, payload: payload, p: p})
		metrics.QueuedOperations.Set(float64(len(c.queue)))
		status := c.status
		c.mu.Unlock()
		c.logger.Debugf("queued %s while %s", msgType, status)
		return p
	}
	c.sendLocked(msgType, payload, p)
	c.mu.Unlock()
	return p
}

// On registers a broadcast handler for a message type. Handlers run in
// registration order.
func (c *Client) On(msgType MessageType, handler Handler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], handlerEntry{
		key: reflect.ValueOf(handler).Pointer(),
		fn:  handler,
	})
}

// Off removes a previously registered handler. The type's entry is dropped
// entirely once its last handler is removed.
func (c *Client) Off(msgType MessageType, handler Handler) {
	if handler == nil {
		return
	}
	key := reflect.ValueOf(handler).Pointer()

	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.handlers[msgType]
	for i, e := range entries {
		if e.key == key {
			c.handlers[msgType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(c.handlers[msgType]) == 0 {
		delete(c.handlers, msgType)
	}
}

// OnStatusChange registers a listener for accepted status transitions and
// returns its unsubscribe function.
func (c *Client) OnStatusChange(listener StatusListener) func() {
	c.mu.Lock()
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: listener})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// dial runs off the caller's goroutine. gen pins it to the Connect call that
// started it so a Disconnect during the dial wins.
func (c *Client) dial(gen int) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.mu.Lock()
		if gen != c.gen || c.status != StatusConnecting {
			c.mu.Unlock()
			return
		}
		notify := c.beginReconnectLocked(err)
		c.mu.Unlock()
		c.fireStatus(notify)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.status != StatusConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.sendCh = make(chan *Message, c.cfg.SendBuffer)
	c.reconnectAttempt = 0
	notify := c.setStatusLocked(StatusConnected)

	go c.readPump(conn, gen)
	go c.writePump(conn, c.sendCh)

	// Handshake goes out before any queued traffic.
	c.enqueueWireLocked(NewHelloMessage(c.cfg.Version, c.cfg.Platform, c.cfg.WindowSize))
	c.flushQueueLocked()
	c.mu.Unlock()

	c.logger.Infof("connected to %s", c.cfg.URL)
	c.fireStatus(notify)
}

func (c *Client) readPump(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnClosed(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) writePump(conn *websocket.Conn, ch <-chan *Message) {
	for msg := range ch {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Warnf("failed to set write deadline: %v", err)
		}
		if err := conn.WriteJSON(msg); err != nil {
			// The read pump observes the broken socket and drives the state
			// transition. A write error alone never schedules a reconnect.
			c.logger.Errorf("write %s failed: %v", msg.Type, err)
			_ = conn.Close()
			return
		}
	}
	// Channel closed: orderly teardown.
	if err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait)); err != nil {
		c.logger.Debugf("failed to write close frame: %v", err)
	}
}

// handleConnClosed runs once per connection; stale generations no-op.
func (c *Client) handleConnClosed(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.teardownConnLocked()
	notify := c.beginReconnectLocked(cause)
	c.mu.Unlock()

	c.fireStatus(notify)
}

// beginReconnectLocked advances the attempt counter and schedules the retry
// per the backoff schedule.
func (c *Client) beginReconnectLocked(cause error) *statusNotification {
	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	delay := c.cfg.Backoff.ForAttempt(attempt)
	metrics.ReconnectsTotal.Inc()
	c.logger.Warnf("connection lost (%v), retrying in %s (attempt %d)", cause, delay, attempt)

	scheduledGen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.reconnectFire(scheduledGen)
	})
	return c.setStatusLocked(StatusReconnecting)
}

func (c *Client) reconnectFire(scheduledGen int) {
	c.mu.Lock()
	if scheduledGen != c.gen || c.status != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.gen++
	gen := c.gen
	notify := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	c.fireStatus(notify)
	go c.dial(gen)
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) teardownConnLocked() {
	if c.sendCh != nil {
		close(c.sendCh)
		c.sendCh = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// sendLocked writes a message through the normal send path: fire-and-forget
// settles immediately, everything else registers a correlation entry.
func (c *Client) sendLocked(msgType MessageType, payload any, p *Pending) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		p.settle(nil, err)
		return
	}

	if _, ok := c.faf[msgType]; ok {
		c.enqueueWireLocked(msg)
		metrics.MessagesSentTotal.WithLabelValues("fire_and_forget").Inc()
		p.settle(nil, nil)
		return
	}

	id := uuid.NewString()
	msg.ID = id
	pr := &pendingRequest{
		p:       p,
		msgType: msgType,
		started: time.Now(),
	}
	pr.timer = time.AfterFunc(c.cfg.RequestTimeout, func() {
		c.expire(id)
	})
	c.pending[id] = pr
	metrics.RequestsInFlight.Inc()

	c.enqueueWireLocked(msg)
	metrics.MessagesSentTotal.WithLabelValues("correlated").Inc()
}

// expire rejects a correlation entry whose timeout elapsed. A response that
// already settled the entry makes this a no-op.
func (c *Client) expire(id string) {
	c.mu.Lock()
	pr, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	metrics.RequestsInFlight.Dec()
	metrics.RequestTimeoutsTotal.Inc()
	elapsed := time.Since(pr.started)
	c.logger.Warnf("request %s timed out after %s", pr.msgType, elapsed)
	pr.p.settle(nil, &TimeoutError{Type: pr.msgType, Elapsed: elapsed})
}

func (c *Client) enqueueWireLocked(msg *Message) {
	if msg == nil || c.sendCh == nil {
		return
	}
	select {
	case c.sendCh <- msg:
	default:
		// Slow or stuck socket. Drop the connection; the read pump schedules
		// the reconnect.
		c.logger.Warnf("send buffer full, dropping connection")
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// flushQueueLocked replays operations queued while disconnected, in FIFO
// order, through the normal send path.
func (c *Client) flushQueueLocked() {
	if len(c.queue) == 0 {
		return
	}
	ops := c.queue
	c.queue = nil
	metrics.QueuedOperations.Set(0)
	c.logger.Infof("flushing %d queued operations", len(ops))
	for _, op := range ops {
		c.sendLocked(op.msgType, op.payload, op.p)
	}
}

// dispatch routes one inbound frame: malformed input is dropped, a matching
// correlation id resolves its entry, everything else is broadcast. A late
// response whose id is already gone falls through to broadcast.
func (c *Client) dispatch(data []byte) {
	msg, err := FromJSON(data)
	if err != nil {
		metrics.MalformedMessagesTotal.Inc()
		c.logger.Warnf("dropping malformed message: %v", err)
		return
	}

	if msg.ID != "" {
		c.mu.Lock()
		pr, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if ok {
			pr.timer.Stop()
			metrics.RequestsInFlight.Dec()
			metrics.MessagesReceivedTotal.WithLabelValues("response").Inc()
			pr.p.settle(msg, nil)
			return
		}
	}

	metrics.MessagesReceivedTotal.WithLabelValues("broadcast").Inc()
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[msg.Type]...)
	c.mu.Unlock()
	for _, e := range entries {
		c.safeHandle(msg, e.fn)
	}
}

func (c *Client) safeHandle(msg *Message, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanicsTotal.Inc()
			c.logger.Errorf("handler for %s panicked: %v", msg.Type, r)
		}
	}()
	fn(msg)
}

type statusNotification struct {
	status    Status
	attempt   int
	listeners []listenerEntry
}

// setStatusLocked suppresses duplicate transitions and snapshots the listener
// set so notifications run outside the lock.
func (c *Client) setStatusLocked(s Status) *statusNotification {
	if s == c.status {
		return nil
	}
	c.status = s
	return &statusNotification{
		status:    s,
		attempt:   c.reconnectAttempt,
		listeners: append([]listenerEntry(nil), c.listeners...),
	}
}

func (c *Client) fireStatus(n *statusNotification) {
	if n == nil {
		return
	}
	for _, e := range n.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					metrics.HandlerPanicsTotal.Inc()
					c.logger.Errorf("status listener panicked: %v", r)
				}
			}()
			e.fn(n.status, n.attempt)
		}()
	}
}
