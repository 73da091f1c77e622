package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"pollroom/internal/metrics"
)

const sendBufferSize = 32

// Timing knobs are variables so tests can shrink them.
var (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// inboundRate bounds join/leave traffic per connection. Watchers send a
// handful of messages over their lifetime; anything faster is abuse.
const (
	inboundRate  = rate.Limit(5)
	inboundBurst = 10
)

// Client owns one watcher connection: a buffered send channel drained by a
// write pump, and a read pump that turns inbound join/leave messages into
// hub calls.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	inbound *rate.Limiter

	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	closeMu sync.Mutex
}

func NewClient(h *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		hub:     h,
		inbound: rate.NewLimiter(inboundRate, inboundBurst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the client's read and write pumps.
func (c *Client) Start() {
	metrics.ConnOpened()
	go c.writePump()
	go c.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}

			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.hub.log.Debug("watcher write failed", "client", c.id, "err", err)
				metrics.IncBroadcastError()
				return
			}
			metrics.IncMessageSent()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// readPump blocks on the connection without an idle deadline: watchers are
// passive and may legitimately never speak after joining. Dead peers are
// reaped by the write pump's ping loop instead.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.Close()
	}()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.hub.log.Debug("watcher read ended", "client", c.id, "err", err)
			}
			return
		}

		if !c.inbound.Allow() {
			c.hub.log.Warn("inbound message rate exceeded, dropping", "client", c.id)
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.ShareID == "" {
			continue
		}

		switch msg.Event {
		case EventJoin:
			c.hub.Join(c, msg.ShareID)
		case EventLeave:
			c.hub.Leave(c, msg.ShareID)
		}
	}
}

// Send queues a message for delivery. It never blocks: a client whose
// buffer is full is dropped, since it can re-fetch the poll state any time.
func (c *Client) Send(message []byte) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		c.hub.log.Warn("send buffer full, dropping slow watcher", "client", c.id)
		go func() {
			c.hub.Disconnect(c)
			c.Close()
		}()
		return false
	}
}

// Close shuts the connection down exactly once.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
	metrics.ConnClosed()
}
