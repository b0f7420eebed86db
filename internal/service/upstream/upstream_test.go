package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"OTCFeed/internal/domain/models"
	"OTCFeed/pkg/config"
)

func wsServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drain keeps the server side open until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type collector struct {
	mu    sync.Mutex
	ticks []models.Tick
	ch    chan struct{}
}

func newCollector() *collector { return &collector{ch: make(chan struct{}, 64)} }

func (c *collector) emit(t models.Tick) {
	c.mu.Lock()
	c.ticks = append(c.ticks, t)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []models.Tick {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for tick %d", i+1)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Tick(nil), c.ticks...)
}

type countingRecorder struct {
	mu sync.Mutex
	n  map[string]int
}

func (r *countingRecorder) RecordMalformed(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == nil {
		r.n = map[string]int{}
	}
	r.n[provider]++
}

func (r *countingRecorder) count(provider string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n[provider]
}

func runAsync(ctx context.Context, c Connector, emit EmitFunc) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, emit) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("connector did not return")
		return nil
	}
}

func TestBinanceStreamsKlines(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		start := time.Now().Truncate(time.Minute).UnixMilli()
		frame := `{"e":"kline","k":{"t":` + strconv.FormatInt(start, 10) + `,"o":"100","h":"110","l":"90","c":"105","v":"3","x":false}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		drain(conn)
	})
	rec := &countingRecorder{}
	c := NewBinance(url, "SOL/USD", Options{Metrics: rec})
	if got := c.URL(); !strings.HasSuffix(got, "/solusdt@kline_1m") {
		t.Fatalf("URL = %s", got)
	}

	col := newCollector()
	done := runAsync(context.Background(), c, col.emit)
	ticks := col.wait(t, 2)
	if ticks[0].Symbol != "SOL/USD" || ticks[0].Price != 105 || ticks[0].Bid != 90 || ticks[0].Ask != 110 {
		t.Fatalf("tick = %+v", ticks[0])
	}
	if ticks[1].Timestamp <= ticks[0].Timestamp {
		t.Fatalf("timestamps must be strictly increasing: %d then %d", ticks[0].Timestamp, ticks[1].Timestamp)
	}
	if rec.count(ProviderBinance) != 1 {
		t.Fatalf("malformed count = %d", rec.count(ProviderBinance))
	}

	c.Close()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Run after Close = %v, want nil", err)
	}
}

func TestBinanceReportsConnectionLoss(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {})
	c := NewBinance(url, "BTC/USD", Options{})
	err := waitErr(t, runAsync(context.Background(), c, func(models.Tick) {}))
	if err == nil {
		t.Fatalf("expected an error when the server hangs up")
	}
}

func TestContextCancelStopsRun(t *testing.T) {
	url := wsServer(t, drain)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, NewBinance(url, "BTC/USD", Options{}), func(models.Tick) {})
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Run after cancel = %v", err)
	}
}

func TestTwelveDataSubscribesAndStreams(t *testing.T) {
	subs := make(chan map[string]interface{}, 4)
	url := wsServer(t, func(conn *websocket.Conn) {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		subs <- msg
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe-status","status":"ok"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"price","symbol":"EUR/USD","price":1.0851,"timestamp":1718031630}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"price","symbol":"EUR/USD","price":1.0853,"timestamp":1718031631}`))
		drain(conn)
	})
	c := NewTwelveData(url, "key", "EUR/USD", "", Options{NoDataTimeout: time.Second})
	col := newCollector()
	done := runAsync(context.Background(), c, col.emit)

	ticks := col.wait(t, 2)
	sub := <-subs
	params, _ := sub["params"].(map[string]interface{})
	if sub["action"] != "subscribe" || params["symbols"] != "EUR/USD" {
		t.Fatalf("subscribe message = %v", sub)
	}
	if ticks[0].Timestamp != 1718031630000 || ticks[0].Change != 0 {
		t.Fatalf("first tick = %+v", ticks[0])
	}
	if d := ticks[1].Change - 0.0002; d > 1e-12 || d < -1e-12 {
		t.Fatalf("change = %v", ticks[1].Change)
	}

	c.Close()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Run after Close = %v", err)
	}
}

func TestTwelveDataNoDataTimeout(t *testing.T) {
	url := wsServer(t, drain)
	c := NewTwelveData(url, "key", "EUR/USD", "", Options{NoDataTimeout: 50 * time.Millisecond})
	err := waitErr(t, runAsync(context.Background(), c, func(models.Tick) {}))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestTwelveDataRetriesRejectedSubscription(t *testing.T) {
	symbols := make(chan string, 4)
	url := wsServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			var msg struct {
				Params map[string]string `json:"params"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			symbols <- msg.Params["symbols"]
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe-status","status":"error","message":"not found"}`))
		}
		drain(conn)
	})
	c := NewTwelveData(url, "key", "USD/BRL", "", Options{NoDataTimeout: time.Second})
	err := waitErr(t, runAsync(context.Background(), c, func(models.Tick) {}))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if first, second := <-symbols, <-symbols; first != "USD/BRL" || second != "USDBRL" {
		t.Fatalf("subscriptions = %q, %q", first, second)
	}
}

func TestTwelveDataErrorFrame(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"error","code":401,"message":"bad key"}`))
		drain(conn)
	})
	c := NewTwelveData(url, "bad", "EUR/USD", "", Options{NoDataTimeout: time.Second})
	if err := waitErr(t, runAsync(context.Background(), c, func(models.Tick) {})); !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestFinnhubStreamsTrades(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "subscribe" || msg["symbol"] != "AAPL" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"MSFT","p":400,"v":1,"t":1718031630000},{"s":"AAPL","p":264.5,"v":10,"t":1718031630001}]}`))
		drain(conn)
	})
	c := NewFinnhub(url, "key", "AAPL", "", Options{})
	col := newCollector()
	done := runAsync(context.Background(), c, col.emit)
	ticks := col.wait(t, 1)
	if ticks[0].Symbol != "AAPL" || ticks[0].Price != 264.5 {
		t.Fatalf("tick = %+v", ticks[0])
	}
	c.Close()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("Run after Close = %v", err)
	}
}

func TestFactory(t *testing.T) {
	cfg, err := config.Parse([]byte("upstream:\n  stock_provider: finnhub\n"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	f := NewFactory(cfg, Options{})

	c, err := f.New(models.Instrument{Symbol: "BTC/USD", Category: models.CategoryCrypto})
	if err != nil || c.Provider() != ProviderBinance {
		t.Fatalf("crypto connector = %v, %v", c, err)
	}
	if _, err := f.New(models.Instrument{Symbol: "AAPL", Category: models.CategoryStocks}); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("missing finnhub key err = %v", err)
	}
	if p := f.ProviderFor(models.Instrument{Category: models.CategoryForex}); p != ProviderTwelveData {
		t.Fatalf("forex provider = %s", p)
	}

	cfg.Upstream.TwelveData.APIKey = "k"
	c, err = f.New(models.Instrument{Symbol: "EUR/USD", Category: models.CategoryForex})
	if err != nil || c.Provider() != ProviderTwelveData || c.Symbol() != "EUR/USD" {
		t.Fatalf("forex connector = %v, %v", c, err)
	}
}

func TestSubscribeMessageShape(t *testing.T) {
	b, _ := json.Marshal(subscribe("EUR/USD"))
	if string(b) != `{"action":"subscribe","params":{"symbols":"EUR/USD"}}` {
		t.Fatalf("subscribe = %s", b)
	}
}
