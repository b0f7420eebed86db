package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applogger "OTCFeed/pkg/logger"
)

var (
	errBufferFull = errors.New("send buffer full")
	errClosed     = errors.New("client closed")
)

// Client is one subscriber socket. Writes go through a buffered channel drained
// by writePump; a full buffer fails the send instead of blocking the caller.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan interface{}
	done   chan struct{}
	once   sync.Once
	logger *applogger.Logger
}

func newClient(id string, conn *websocket.Conn, buffer int, logger *applogger.Logger) *Client {
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan interface{}, buffer),
		done:   make(chan struct{}),
		logger: logger.With(applogger.String("client_id", id)),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Send(msg interface{}) error {
	select {
	case <-c.done:
		return errClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errBufferFull
	}
}

// Close asks writePump to send a close frame and release the socket.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("write failed", applogger.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush(cfg)
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// flush writes whatever is still buffered, such as a shutdown notice queued
// right before Close.
func (c *Client) flush(cfg Config) {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
