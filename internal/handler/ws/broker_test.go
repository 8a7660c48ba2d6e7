package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"klinecast/internal/bus"
	"klinecast/internal/domain/models"
	"klinecast/pkg/logger"
)

type noopMetrics struct{ wsDropped int }

func (noopMetrics) RecordCandlesIngested(string, int64)    {}
func (noopMetrics) RecordError(string)                     {}
func (noopMetrics) RecordLastPrice(string, float64)        {}
func (noopMetrics) RecordLatency(string, float64)          {}
func (noopMetrics) RecordPredictionsPersisted(string, int) {}
func (noopMetrics) RecordModelTrained(string)              {}
func (noopMetrics) AddWSConnections(int)                   {}
func (noopMetrics) RecordWSDropped(string)                 {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lgr
}

func TestBroadcastFairness(t *testing.T) {
	b := NewBroker(nil, noopMetrics{}, testLogger(t), 4)

	fast := &client{out: make(chan []byte, 64), symbols: map[string]struct{}{"BTCUSDT": {}}, closed: make(chan struct{})}
	slow := &client{out: make(chan []byte, 4), symbols: map[string]struct{}{"BTCUSDT": {}}, closed: make(chan struct{})}

	b.clients[fast] = struct{}{}
	b.clients[slow] = struct{}{}
	b.subs["BTCUSDT"] = map[*client]struct{}{fast: {}, slow: {}}

	// Neither writer runs, so queues fill as broadcast pushes.
	for i := 0; i < 10; i++ {
		b.broadcast(models.SyncComplete{Symbol: "BTCUSDT", NewRecords: int64(i + 1)})
	}

	// The roomy client holds all 10 in emission order.
	if got := len(fast.out); got != 10 {
		t.Fatalf("fast queue holds %d, want 10", got)
	}
	for i := 0; i < 10; i++ {
		var ev syncCompleteEvent
		if err := json.Unmarshal(<-fast.out, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Statistics.NewRecords != int64(i+1) {
			t.Fatalf("fast event %d has new_records %d", i, ev.Statistics.NewRecords)
		}
	}

	// The slow client is bounded and lost the oldest six.
	if got := len(slow.out); got != 4 {
		t.Fatalf("slow queue holds %d, want 4", got)
	}
	if got := slow.droppedCount(); got != 6 {
		t.Fatalf("slow dropped %d, want 6", got)
	}
	var first syncCompleteEvent
	_ = json.Unmarshal(<-slow.out, &first)
	if first.Statistics.NewRecords != 7 {
		t.Fatalf("slow kept oldest %d, want 7 (oldest-first loss)", first.Statistics.NewRecords)
	}
}

func TestBroadcastOnlyReachesSubscribers(t *testing.T) {
	b := NewBroker(nil, noopMetrics{}, testLogger(t), 4)
	btc := &client{out: make(chan []byte, 4), symbols: map[string]struct{}{"BTCUSDT": {}}, closed: make(chan struct{})}
	eth := &client{out: make(chan []byte, 4), symbols: map[string]struct{}{"ETHUSDT": {}}, closed: make(chan struct{})}
	b.subs["BTCUSDT"] = map[*client]struct{}{btc: {}}
	b.subs["ETHUSDT"] = map[*client]struct{}{eth: {}}

	b.broadcast(models.SyncComplete{Symbol: "BTCUSDT", NewRecords: 1})

	if len(btc.out) != 1 {
		t.Errorf("btc subscriber got %d events", len(btc.out))
	}
	if len(eth.out) != 0 {
		t.Errorf("eth subscriber got %d events, want 0", len(eth.out))
	}
}

func dialTestServer(t *testing.T, b *Broker) (*websocket.Conn, func()) {
	t.Helper()
	e := echo.New()
	b.RegisterRoutes(e)
	srv := httptest.NewServer(e)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/updates"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev map[string]interface{}
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev["type"] != wantType {
		t.Fatalf("event type = %v, want %s (payload %s)", ev["type"], wantType, payload)
	}
	return ev
}

func TestClientLifecycleOverWire(t *testing.T) {
	evbus := bus.NewInproc(16, testLogger(t))
	defer evbus.Close()

	b := NewBroker(evbus, noopMetrics{}, testLogger(t), 16)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	conn, cleanup := dialTestServer(t, b)
	defer cleanup()

	readEvent(t, conn, "connected")

	if err := conn.WriteJSON(map[string]interface{}{"action": "subscribe", "symbols": []string{"btcusdt"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	sub := readEvent(t, conn, "subscribed")
	if fmt.Sprint(sub["symbols"]) != "[BTCUSDT]" {
		t.Errorf("subscribed symbols = %v", sub["symbols"])
	}

	if err := conn.WriteJSON(map[string]string{"action": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	readEvent(t, conn, "pong")

	if err := evbus.Publish(context.Background(), models.SyncComplete{Symbol: "BTCUSDT", NewRecords: 3, LastPrice: 50000}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := readEvent(t, conn, "sync_complete")
	stats, _ := ev["statistics"].(map[string]interface{})
	if stats["new_records"] != float64(3) {
		t.Errorf("statistics = %v", stats)
	}

	if err := conn.WriteJSON(map[string]string{"action": "stats"}); err != nil {
		t.Fatalf("write stats: %v", err)
	}
	st := readEvent(t, conn, "stats")
	data, _ := st["data"].(map[string]interface{})
	if data["total_connections"] != float64(1) {
		t.Errorf("stats data = %v", data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	readEvent(t, conn, "error")

	if err := conn.WriteJSON(map[string]interface{}{"action": "unsubscribe", "symbols": []string{"BTCUSDT"}}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	readEvent(t, conn, "unsubscribed")
}
