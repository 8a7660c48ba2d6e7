package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"klinecast/internal/domain/models"
	drepo "klinecast/internal/domain/repository"
	"klinecast/pkg/logger"
)

const writeTimeout = 10 * time.Second

// Broker owns the websocket clients and fans sync-complete events out
// to per-symbol subscribers. One broadcaster goroutine reads the bus;
// each client has a bounded outbound queue drained by its own writer,
// so a stalled client loses its oldest messages instead of blocking
// anyone else.
type Broker struct {
	logger    *logger.Logger
	metrics   drepo.Metrics
	bus       drepo.Bus
	queueSize int

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    map[string]map[*client]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	conn    *websocket.Conn
	out     chan []byte
	symbols map[string]struct{}
	dropped int64
	closed  chan struct{}
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.closed) })
}

func NewBroker(bus drepo.Bus, metrics drepo.Metrics, lgr *logger.Logger, queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Broker{
		logger:    lgr,
		metrics:   metrics,
		bus:       bus,
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		subs:    make(map[string]map[*client]struct{}),
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (b *Broker) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/updates", b.handleWS)
}

// Start launches the broadcaster over the bus subscription.
func (b *Broker) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	events := b.bus.Subscribe()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				b.broadcast(ev)
			}
		}
	}()
	return nil
}

// Stop closes every connection with a normal close frame and waits for
// the broadcaster to exit.
func (b *Broker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for cl := range b.clients {
		clients = append(clients, cl)
	}
	b.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown")
	for _, cl := range clients {
		_ = cl.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		cl.close()
		_ = cl.conn.Close()
	}
	b.wg.Wait()
}

func (b *Broker) handleWS(c echo.Context) error {
	conn, err := b.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &client{
		conn:    conn,
		out:     make(chan []byte, b.queueSize),
		symbols: make(map[string]struct{}),
		closed:  make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[cl] = struct{}{}
	b.mu.Unlock()
	b.metrics.AddWSConnections(1)

	cl.enqueue(mustJSON(connectedEvent{
		Type:      "connected",
		Message:   "connected to kline updates",
		Timestamp: nowStamp(),
	}))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.writeLoop(cl)
	}()

	b.readLoop(cl)

	b.removeClient(cl)
	return nil
}

func (b *Broker) readLoop(cl *client) {
	for {
		_, payload, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var req clientFrame
		if err := json.Unmarshal(payload, &req); err != nil {
			cl.enqueue(mustJSON(errorEvent{
				Type:      "error",
				Message:   "malformed frame",
				Timestamp: nowStamp(),
			}))
			continue
		}

		switch req.Action {
		case "subscribe":
			symbols := b.subscribe(cl, req.Symbols)
			cl.enqueue(mustJSON(subscriptionEvent{
				Type:      "subscribed",
				Symbols:   symbols,
				Timestamp: nowStamp(),
			}))
		case "unsubscribe":
			symbols := b.unsubscribe(cl, req.Symbols)
			cl.enqueue(mustJSON(subscriptionEvent{
				Type:      "unsubscribed",
				Symbols:   symbols,
				Timestamp: nowStamp(),
			}))
		case "ping":
			cl.enqueue(mustJSON(pongEvent{Type: "pong", Timestamp: nowStamp()}))
		case "stats":
			cl.enqueue(mustJSON(b.statsEvent()))
		default:
			cl.enqueue(mustJSON(errorEvent{
				Type:      "error",
				Message:   "unknown action",
				Timestamp: nowStamp(),
			}))
		}
	}
}

func (b *Broker) writeLoop(cl *client) {
	for {
		select {
		case <-cl.closed:
			return
		case msg, ok := <-cl.out:
			if !ok {
				return
			}
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cl.close()
				return
			}
		}
	}
}

func (b *Broker) subscribe(cl *client, symbols []string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if b.subs[s] == nil {
			b.subs[s] = make(map[*client]struct{})
		}
		b.subs[s][cl] = struct{}{}
		cl.symbols[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (b *Broker) unsubscribe(cl *client, symbols []string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		delete(cl.symbols, s)
		if set := b.subs[s]; set != nil {
			delete(set, cl)
			if len(set) == 0 {
				delete(b.subs, s)
			}
		}
		out = append(out, s)
	}
	return out
}

func (b *Broker) removeClient(cl *client) {
	b.mu.Lock()
	delete(b.clients, cl)
	for s := range cl.symbols {
		if set := b.subs[s]; set != nil {
			delete(set, cl)
			if len(set) == 0 {
				delete(b.subs, s)
			}
		}
	}
	b.mu.Unlock()

	cl.close()
	_ = cl.conn.Close()
	b.metrics.AddWSConnections(-1)
}

// broadcast delivers one event to every subscriber of its symbol. The
// payload is marshaled once. Enqueueing never blocks: a full queue
// evicts its oldest entry and counts the drop.
func (b *Broker) broadcast(ev models.SyncComplete) {
	payload := mustJSON(syncCompleteEvent{
		Type:      "sync_complete",
		Symbol:    ev.Symbol,
		Timestamp: nowStamp(),
		Statistics: syncStatistics{
			NewRecords:   ev.NewRecords,
			TotalRecords: ev.TotalRecords,
			LastPrice:    ev.LastPrice,
			LastRecord:   ev.LastRecord,
		},
	})

	b.mu.Lock()
	targets := make([]*client, 0, len(b.subs[ev.Symbol]))
	for cl := range b.subs[ev.Symbol] {
		targets = append(targets, cl)
	}
	b.mu.Unlock()

	for _, cl := range targets {
		if dropped := cl.enqueue(payload); dropped {
			b.metrics.RecordWSDropped(ev.Symbol)
		}
	}
}

// enqueue appends to the outbound queue, evicting the oldest message
// when full. Reports whether an eviction happened.
func (c *client) enqueue(msg []byte) bool {
	select {
	case c.out <- msg:
		return false
	default:
	}

	var evicted bool
	select {
	case <-c.out:
		evicted = true
		atomic.AddInt64(&c.dropped, 1)
	default:
	}
	select {
	case c.out <- msg:
	default:
		// Queue refilled concurrently; count this message as lost.
		atomic.AddInt64(&c.dropped, 1)
		evicted = true
	}
	return evicted
}

func (c *client) droppedCount() int64 {
	return atomic.LoadInt64(&c.dropped)
}

func (b *Broker) statsEvent() statsEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := make(map[string]int, len(b.subs))
	for s, set := range b.subs {
		subs[s] = len(set)
	}
	return statsEvent{
		Type: "stats",
		Data: statsData{
			TotalConnections: len(b.clients),
			Subscriptions:    subs,
		},
		Timestamp: nowStamp(),
	}
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // event types marshal by construction
	}
	return b
}
