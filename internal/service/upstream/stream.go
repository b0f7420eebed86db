// Package upstream holds one outbound websocket connection per (provider, instrument).
package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"OTCFeed/internal/domain/models"
	applogger "OTCFeed/pkg/logger"
)

var (
	// ErrNoData means the provider accepted the connection but sent no price in time.
	ErrNoData = errors.New("no price data received")
	// ErrRejected means the provider refused the subscription or reported an error.
	ErrRejected = errors.New("subscription rejected")
)

const writeWait = 10 * time.Second

// EmitFunc receives normalized ticks on the connector's read goroutine.
type EmitFunc func(models.Tick)

// Connector is a single upstream feed. Run blocks until the connection ends and
// returns nil when ctx is cancelled or Close is called.
type Connector interface {
	Provider() string
	Symbol() string
	Run(ctx context.Context, emit EmitFunc) error
	Close()
}

// MalformedRecorder counts payloads the normalizer rejected.
type MalformedRecorder interface {
	RecordMalformed(provider string)
}

type nopRecorder struct{}

func (nopRecorder) RecordMalformed(string) {}

// Options are shared by every connector.
type Options struct {
	PingInterval  time.Duration
	NoDataTimeout time.Duration
	Dialer        *websocket.Dialer
	Logger        *applogger.Logger
	Metrics       MalformedRecorder
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.NoDataTimeout <= 0 {
		o.NoDataTimeout = 15 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = applogger.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = nopRecorder{}
	}
	return o
}

// stream wraps a gorilla connection with a write lock and idempotent close.
type stream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func dial(ctx context.Context, dialer *websocket.Dialer, url string) (*stream, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &stream{conn: conn}, nil
}

func (s *stream) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *stream) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *stream) read() ([]byte, error) {
	_, b, err := s.conn.ReadMessage()
	return b, err
}

func (s *stream) close() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// base carries the lifecycle shared by every connector.
type base struct {
	provider string
	symbol   string
	opts     Options
	logger   *applogger.Logger

	mu     sync.Mutex
	cur    *stream
	closed bool
}

func newBase(provider, symbol string, opts Options) base {
	opts = opts.withDefaults()
	return base{
		provider: provider,
		symbol:   symbol,
		opts:     opts,
		logger: opts.Logger.With(
			applogger.String("provider", provider),
			applogger.String("symbol", symbol)),
	}
}

func (b *base) Provider() string { return b.provider }
func (b *base) Symbol() string   { return b.symbol }

// Close ends the running connection, if any. Run then returns nil.
func (b *base) Close() {
	b.mu.Lock()
	b.closed = true
	s := b.cur
	b.mu.Unlock()
	if s != nil {
		s.close()
	}
}

func (b *base) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// session dials url and runs loop with keep-alive pings until the connection
// drops, ctx ends or Close is called.
func (b *base) session(ctx context.Context, url string, loop func(ctx context.Context, s *stream) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("connector panic recovered", applogger.Any("panic", r))
			err = fmt.Errorf("%s %s: panic: %v", b.provider, b.symbol, r)
		}
	}()

	if b.isClosed() {
		return nil
	}
	s, err := dial(ctx, b.opts.Dialer, url)
	if err != nil {
		return fmt.Errorf("%s dial %s: %w", b.provider, b.symbol, err)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return nil
	}
	b.cur = s
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.cur = nil
		b.mu.Unlock()
		s.close()
	}()
	b.logger.Info("upstream connected")

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		s.close()
	}()
	go func() {
		ticker := time.NewTicker(b.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				if err := s.ping(); err != nil {
					return
				}
			}
		}
	}()

	err = loop(sctx, s)
	if ctx.Err() != nil || b.isClosed() {
		return nil
	}
	return err
}

// malformed logs and counts a rejected payload.
func (b *base) malformed(err error) {
	b.opts.Metrics.RecordMalformed(b.provider)
	b.logger.Debug("dropping malformed payload", applogger.Error(err))
}
