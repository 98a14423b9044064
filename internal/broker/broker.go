// Package broker fans live catalog changes out to WebSocket subscribers and
// runs ad-hoc queries on their behalf. Each connection gets one reader and
// one writer goroutine and a bounded outbound queue; a slow consumer loses
// stale data updates, never query results.
package broker

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/datapulse/datapulse/internal/domain"
)

// QueryRunner is the slice of the query engine the broker needs.
type QueryRunner interface {
	Execute(ctx context.Context, stmt string, params []any, sourceID string, useCache bool) (domain.QueryResult, error)
}

// SourceResolver looks up registered sources for subscription checks.
type SourceResolver interface {
	Get(id string) (domain.DataSource, bool)
}

// Broker is the connection hub. It implements registry.Watcher so catalog
// mutations reach every subscriber; fan-out runs on the mutating goroutine,
// which gives every connection the same per-source message order.
type Broker struct {
	runner    QueryRunner
	resolver  SourceResolver
	queueSize int
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[*conn]struct{}

	dropped atomic.Int64
}

// Options tune the broker; zero values fall back to defaults.
type Options struct {
	OutboundQueueSize int
}

// New builds a broker over the query engine and source catalog.
func New(runner QueryRunner, resolver SourceResolver, opts Options) *Broker {
	if opts.OutboundQueueSize <= 0 {
		opts.OutboundQueueSize = 64
	}
	return &Broker{
		runner:    runner,
		resolver:  resolver,
		queueSize: opts.OutboundQueueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the CORS layer in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// Connections returns the number of live connections.
func (b *Broker) Connections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Dropped returns how many data updates were coalesced away since start.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// SourceChanged implements registry.Watcher: every subscriber of the source
// receives a data:update carrying the new source record.
func (b *Broker) SourceChanged(src domain.DataSource) {
	update := outbound{
		kind:     msgDataUpdate,
		sourceID: src.ID,
		payload:  newDataUpdate(src.ID, []any{src}),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.conns {
		if c.subscribed(src.ID) {
			c.enqueue(update)
		}
	}
}

// SourceRemoved implements registry.Watcher: subscriptions keyed to the
// source are dropped so no further updates can reference it.
func (b *Broker) SourceRemoved(id string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.conns {
		if c.subscribed(id) {
			c.unsubscribe(id)
			c.enqueue(outbound{kind: msgError, payload: newError("data source "+id+" was removed", domain.CodeSourceNotFound)})
		}
	}
}

// Handle upgrades the request and serves the connection until it closes.
// Closing cancels the connection context, which aborts in-flight queries.
func (b *Broker) Handle(w http.ResponseWriter, r *http.Request) {
	socket, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := newConn(uuid.New().String(), socket, b.queueSize, &b.dropped)

	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	slog.Info("websocket connected", "conn", c.id)

	defer func() {
		cancel()
		c.close()
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		slog.Info("websocket disconnected", "conn", c.id)
	}()

	go c.writeLoop()
	c.enqueue(outbound{kind: msgSystemStatus, payload: b.systemStatus()})

	b.readLoop(ctx, c)
}

func (b *Broker) readLoop(ctx context.Context, c *conn) {
	for {
		var msg ClientMessage
		if err := c.socket.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "conn", c.id, "error", err)
			}
			return
		}
		b.dispatch(ctx, c, msg)
	}
}

func (b *Broker) dispatch(ctx context.Context, c *conn, msg ClientMessage) {
	switch msg.Type {
	case msgDataSubscribe:
		src, ok := b.resolver.Get(msg.SourceID)
		if !ok {
			c.enqueue(outbound{kind: msgError, payload: newError("data source "+msg.SourceID+" not found", domain.CodeSourceNotFound)})
			return
		}
		c.subscribe(src.ID)
		// Immediate snapshot so the client renders without waiting for the
		// next change.
		c.enqueue(outbound{kind: msgDataUpdate, sourceID: src.ID, payload: newDataUpdate(src.ID, []any{src})})
	case msgDataUnsubscribe:
		c.unsubscribe(msg.SourceID)
	case msgQueryExecute:
		go b.runQuery(ctx, c, msg)
	default:
		c.enqueue(outbound{kind: msgError, payload: newError("unknown message type "+msg.Type, domain.CodeBadRequest)})
	}
}

// runQuery executes one query:execute request. The result goes only to the
// requesting connection under a fresh query id.
func (b *Broker) runQuery(ctx context.Context, c *conn, msg ClientMessage) {
	queryID := uuid.New().String()
	result, err := b.runner.Execute(ctx, msg.SQL, msg.Params, msg.SourceID, true)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.enqueue(outbound{kind: msgQueryResult, payload: newQueryError(queryID, err.Error())})
		return
	}
	c.enqueue(outbound{kind: msgQueryResult, payload: newQueryResult(queryID, rowObjects(result))})
}

func (b *Broker) systemStatus() systemStatusMessage {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return systemStatusMessage{
		Type:        msgSystemStatus,
		Memory:      mem.Alloc,
		Connections: b.Connections(),
		Dropped:     b.dropped.Load(),
	}
}
