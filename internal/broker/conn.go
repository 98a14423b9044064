package broker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// outbound is a queued server message. The kind and sourceID let the queue
// coalesce pending data updates without decoding payloads.
type outbound struct {
	kind     string
	sourceID string
	payload  any
}

// conn is one client connection. The reader goroutine lives in the broker;
// the writer drains the bounded outbound queue. The queue favors freshness
// over completeness: when it is full, the oldest pending update for the
// incoming update's source is discarded, because a newer snapshot of the
// same source supersedes it.
type conn struct {
	id     string
	socket *websocket.Conn

	mu     sync.Mutex
	queue  []outbound
	limit  int
	closed bool
	subs   map[string]struct{}

	notify  chan struct{}
	dropped *atomic.Int64
}

func newConn(id string, socket *websocket.Conn, queueSize int, dropped *atomic.Int64) *conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &conn{
		id:      id,
		socket:  socket,
		limit:   queueSize,
		subs:    make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
		dropped: dropped,
	}
}

func (c *conn) subscribe(sourceID string) {
	c.mu.Lock()
	c.subs[sourceID] = struct{}{}
	c.mu.Unlock()
}

func (c *conn) unsubscribe(sourceID string) {
	c.mu.Lock()
	delete(c.subs, sourceID)
	c.mu.Unlock()
}

func (c *conn) subscribed(sourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[sourceID]
	return ok
}

// enqueue appends msg to the outbound queue. Updates are coalesced when the
// queue is full; query results and errors are never dropped, they may push
// the queue past its soft limit briefly.
func (c *conn) enqueue(msg outbound) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if msg.kind == msgDataUpdate && len(c.queue) >= c.limit {
		if c.coalesceLocked(msg.sourceID) {
			c.dropped.Add(1)
		} else {
			// Queue is full of undroppable messages; shed the incoming
			// update instead.
			c.mu.Unlock()
			c.dropped.Add(1)
			return
		}
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// coalesceLocked removes the oldest pending update, preferring one for the
// given source. Caller holds c.mu.
func (c *conn) coalesceLocked(sourceID string) bool {
	victim := -1
	for i, pending := range c.queue {
		if pending.kind != msgDataUpdate {
			continue
		}
		if pending.sourceID == sourceID {
			victim = i
			break
		}
		if victim < 0 {
			victim = i
		}
	}
	if victim < 0 {
		return false
	}
	c.queue = append(c.queue[:victim], c.queue[victim+1:]...)
	return true
}

// next blocks until a message is available or the connection closes.
func (c *conn) next() (outbound, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, true
		}
		if c.closed {
			c.mu.Unlock()
			return outbound{}, false
		}
		c.mu.Unlock()
		<-c.notify
	}
}

func (c *conn) writeLoop() {
	for {
		msg, ok := c.next()
		if !ok {
			return
		}
		if err := c.socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.close()
			return
		}
		if err := c.socket.WriteJSON(msg.payload); err != nil {
			slog.Debug("websocket write failed", "conn", c.id, "error", err)
			c.close()
			return
		}
	}
}

// close is idempotent; it wakes the writer so it can exit.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	_ = c.socket.Close()
}
