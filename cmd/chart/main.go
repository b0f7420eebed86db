// Command chart is a reference subscriber: it loads candle history as a
// placeholder, streams ticks into a candle aggregator and redraws the current
// bar on a fixed interval.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/pkg/candle"
	xhttp "OTCFeed/pkg/http"
	applogger "OTCFeed/pkg/logger"
)

var errServerShutdown = errors.New("server shutting down")

func main() {
	server := flag.String("server", "http://localhost:8080", "feed base URL")
	symbol := flag.String("symbol", "EUR/USD", "instrument")
	timeframe := flag.String("timeframe", "1m", "candle timeframe")
	limit := flag.Int("limit", 300, "history candles to load")
	redraw := flag.Duration("redraw", time.Second, "redraw interval")
	flag.Parse()

	log, err := applogger.New(&applogger.Config{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tf := domrepo.NormalizeTimeframe(*timeframe)
	c := newChart(*symbol, tf, log)
	if err := c.load(ctx, xhttp.NewClient(xhttp.WithTimeout(10*time.Second)), *server, *limit); err != nil {
		log.Warn("history unavailable, starting empty", applogger.Error(err))
	}
	if err := c.stream(ctx, *server, *redraw); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("stream ended", applogger.Error(err))
		os.Exit(1)
	}
}

type chart struct {
	symbol string
	tf     domrepo.Timeframe
	agg    *candle.Aggregator
	log    *applogger.Logger
}

func newChart(symbol string, tf domrepo.Timeframe, log *applogger.Logger) *chart {
	return &chart{
		symbol: symbol,
		tf:     tf,
		agg:    candle.NewAggregator(tf.Duration(), candle.WithMaxCandles(1000)),
		log:    log.With(applogger.String("symbol", symbol), applogger.String("timeframe", string(tf))),
	}
}

// load seeds the aggregator from /api/candles.
func (c *chart) load(ctx context.Context, client *xhttp.Client, base string, limit int) error {
	var bars []models.Candle
	err := client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: "GET",
		URL:    strings.TrimRight(base, "/") + "/api/candles",
		QueryParams: map[string][]string{
			"symbol":    {c.symbol},
			"timeframe": {string(c.tf)},
			"limit":     {strconv.Itoa(limit)},
		},
	}, &bars)
	if err != nil {
		return err
	}
	c.agg.Seed(bars)
	c.log.Info("history loaded", applogger.Int("candles", len(bars)))
	return nil
}

func (c *chart) stream(ctx context.Context, base string, redraw time.Duration) error {
	u, err := url.Parse(base)
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(models.ClientMessage{Action: models.ActionSubscribe, Symbol: c.symbol}); err != nil {
		return err
	}

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- raw
		}
	}()

	ticker := time.NewTicker(redraw)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-readErr:
			return err
		case raw := <-frames:
			if err := c.onFrame(raw); err != nil {
				return err
			}
		case <-ticker.C:
			c.render()
		}
	}
}

type frame struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	IsOpen  bool        `json:"isOpen"`
	IsOTC   bool        `json:"isOTC"`
	Data    models.Tick `json:"data"`
}

func (c *chart) onFrame(raw []byte) error {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Warn("bad frame", applogger.Error(err))
		return nil
	}
	switch f.Type {
	case models.MessageTick:
		if f.Data.Symbol != c.symbol {
			return nil
		}
		res, ok := c.agg.Add(f.Data)
		if ok && res.Committed != nil {
			c.log.Info("bar closed", candleFields(*res.Committed)...)
		}
	case models.MessageMarketStatus:
		c.log.Info("market status", applogger.Bool("open", f.IsOpen), applogger.Bool("otc", f.IsOTC), applogger.String("message", f.Message))
	case models.MessageError:
		c.log.Warn("server error", applogger.String("message", f.Message))
	case models.MessageServerShutdown:
		return errServerShutdown
	}
	return nil
}

func (c *chart) render() {
	bar, ok := c.agg.Redraw()
	if !ok {
		return
	}
	fields := append(candleFields(bar), applogger.Bool("placeholder", c.agg.IsPlaceholder()))
	c.log.Info("bar", fields...)
}

func candleFields(b models.Candle) []applogger.Field {
	return []applogger.Field{
		applogger.String("time", time.UnixMilli(b.Time).UTC().Format(time.RFC3339)),
		applogger.Float64("open", b.Open),
		applogger.Float64("high", b.High),
		applogger.Float64("low", b.Low),
		applogger.Float64("close", b.Close),
	}
}
