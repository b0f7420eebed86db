package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/internal/service/catalog"
	"OTCFeed/internal/usecase"
	applogger "OTCFeed/pkg/logger"
)

const (
	defaultSendBuffer   = 256
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 5 * time.Second
	maxMessageSize      = 4096
	storeLookupTimeout  = 2 * time.Second
)

// Subscriptions is the part of the Hub the endpoint drives.
type Subscriptions interface {
	Subscribe(sub usecase.Subscriber, symbol string) bool
	Unsubscribe(sub usecase.Subscriber, symbol string)
	Remove(sub usecase.Subscriber)
}

// StatusSource reports market status for enabled instruments.
type StatusSource interface {
	Status(symbol string) (models.MarketStatus, error)
}

// Config tunes subscriber sockets.
type Config struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

func (c *Config) withDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
}

// Handler serves the subscriber WebSocket endpoint.
type Handler struct {
	hub      Subscriptions
	status   StatusSource
	store    domrepo.TickStore
	cfg      Config
	logger   *applogger.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewHandler(hub Subscriptions, status StatusSource, store domrepo.TickStore, cfg Config, logger *applogger.Logger) *Handler {
	cfg.withDefaults()
	if logger == nil {
		logger = applogger.Nop()
	}
	return &Handler{
		hub:    hub,
		status: status,
		store:  store,
		cfg:    cfg,
		logger: logger.With(applogger.String("component", "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

// Serve upgrades the request and runs the client until it disconnects.
func (h *Handler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Debug("upgrade failed", applogger.Error(err))
		return nil
	}

	client := newClient(uuid.NewString(), conn, h.cfg.SendBuffer, h.logger)
	_ = client.Send(models.NoticeMessage{
		Type:      models.MessageConnected,
		Message:   "connected to price feed",
		Timestamp: h.now().UnixMilli(),
	})
	go client.writePump(h.cfg)

	client.logger.Info("subscriber connected", applogger.String("remote", c.RealIP()))
	h.readPump(client)
	return nil
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Remove(c)
		c.Close()
		c.logger.Info("subscriber disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", applogger.Error(err))
			}
			return
		}
		h.handleMessage(c, raw)
	}
}

func (h *Handler) handleMessage(c *Client, raw []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(c, "", "invalid message")
		return
	}
	symbol := catalog.Normalize(msg.Symbol)
	if symbol == "" {
		h.sendError(c, "", "symbol required")
		return
	}

	switch msg.Verb() {
	case models.ActionSubscribe:
		h.subscribe(c, symbol)
	case models.ActionUnsubscribe:
		h.hub.Unsubscribe(c, symbol)
	default:
		h.sendError(c, symbol, "unknown action")
	}
}

// subscribe sends the market status and the last stored tick before joining
// the fan-out, so the first live tick is never older than the replay.
func (h *Handler) subscribe(c *Client, symbol string) {
	status, err := h.status.Status(symbol)
	if err != nil {
		if errors.Is(err, usecase.ErrUnknownInstrument) {
			h.sendError(c, symbol, "unknown or disabled symbol")
			return
		}
		h.sendError(c, symbol, "status unavailable")
		return
	}
	_ = c.Send(models.StatusMessage{Type: models.MessageMarketStatus, Symbol: symbol, MarketStatus: status})

	if h.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeLookupTimeout)
		last, err := h.store.Get(ctx, symbol)
		cancel()
		if err == nil {
			_ = c.Send(models.TickMessage{Type: models.MessageTick, Data: last})
		} else if !errors.Is(err, domrepo.ErrNotFound) {
			c.logger.Warn("last tick lookup failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}

	h.hub.Subscribe(c, symbol)
}

func (h *Handler) sendError(c *Client, symbol, message string) {
	_ = c.Send(models.NoticeMessage{
		Type:      models.MessageError,
		Message:   message,
		Symbol:    symbol,
		Timestamp: h.now().UnixMilli(),
	})
}
