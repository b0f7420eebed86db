package usecase

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/internal/service/catalog"
	"OTCFeed/internal/service/markethours"
	"OTCFeed/internal/service/otc"
	"OTCFeed/internal/service/ratelimit"
	"OTCFeed/internal/service/upstream"
	applogger "OTCFeed/pkg/logger"
	"OTCFeed/pkg/scheduler"
)

// ErrUnknownInstrument is returned for symbols that are not in the catalog or disabled.
var ErrUnknownInstrument = errors.New("unknown instrument")

const (
	defaultReconnectDelay = 5 * time.Second
	closeLookupTimeout    = 10 * time.Second
)

// reanchorThreshold is the relative gap between the synthetic anchor and a
// fetched close above which a running engine is re-anchored.
const reanchorThreshold = 0.01

// ConnectorFactory builds upstream connectors.
type ConnectorFactory interface {
	ProviderFor(in models.Instrument) string
	New(in models.Instrument) (upstream.Connector, error)
}

// TickSink accepts ticks from every source.
type TickSink interface {
	Process(ctx context.Context, t models.Tick) error
}

// RealPrices remembers the last real price per symbol.
type RealPrices interface {
	LastRealPrice(symbol string) (float64, bool)
}

// CloseLookup fetches a recent close from a REST provider.
type CloseLookup interface {
	LatestClose(ctx context.Context, symbol string) (float64, error)
}

// SourceManagerConfig holds the collaborators and timings of a SourceManager.
type SourceManagerConfig struct {
	Catalog   *catalog.Catalog
	Evaluator *markethours.Evaluator
	Registry  *otc.Registry
	Factory   ConnectorFactory
	Cooldown  *ratelimit.Cooldown
	Scheduler *scheduler.Scheduler
	Sink      TickSink
	Store     domrepo.TickStore
	Prices    RealPrices
	Closes    CloseLookup // optional
	Metrics   domrepo.Metrics
	Logger    *applogger.Logger

	StatusCheckInterval time.Duration
	ReconnectDelay      time.Duration
	Now                 func() time.Time
}

type source struct {
	in       models.Instrument
	conn     upstream.Connector
	connTask *scheduler.Task
	gen      int
	retry    *scheduler.Task
	engine   bool
	anchor   float64
	realSeen bool
	fellBack bool
}

func (s *source) kind() string {
	switch {
	case s.engine:
		return "synthetic"
	case s.conn != nil || s.retry != nil:
		return "upstream"
	}
	return "none"
}

// SourceManager decides per active symbol whether an upstream connector or a
// synthetic engine is authoritative, and hands off between them. Every state
// change runs on one goroutine; OnActive and OnIdle only enqueue work, so they
// never block the Hub.
type SourceManager struct {
	cfg    SourceManagerConfig
	logger *applogger.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	started bool
	check   *scheduler.Task

	sources map[string]*source // loop goroutine only

	kindsMu sync.RWMutex
	kinds   map[string]string
}

func NewSourceManager(cfg SourceManagerConfig) *SourceManager {
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StatusCheckInterval <= 0 {
		cfg.StatusCheckInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	return &SourceManager{
		cfg:     cfg,
		logger:  cfg.Logger.With(applogger.String("component", "source_manager")),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		sources: make(map[string]*source),
		kinds:   make(map[string]string),
	}
}

// Start runs the manager loop and the periodic market status check.
func (m *SourceManager) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.run()
	m.check = m.cfg.Scheduler.Every(m.cfg.StatusCheckInterval, func(context.Context) {
		m.post(m.recheck)
	})
}

// OnActive starts a source for symbol.
func (m *SourceManager) OnActive(symbol string) {
	m.post(func() { m.activate(symbol) })
}

// OnIdle tears down the source of symbol.
func (m *SourceManager) OnIdle(symbol string) {
	m.post(func() { m.deactivate(symbol) })
}

// Recheck re-evaluates market status for every active symbol now.
func (m *SourceManager) Recheck() {
	m.post(m.recheck)
}

// Status returns the market status of an enabled instrument.
func (m *SourceManager) Status(symbol string) (models.MarketStatus, error) {
	in, ok := m.cfg.Catalog.Lookup(symbol)
	if !ok || !in.Enabled {
		return models.MarketStatus{}, ErrUnknownInstrument
	}
	return m.cfg.Evaluator.Status(in.Category, m.cfg.Now()), nil
}

// Sources returns the active source kind per symbol.
func (m *SourceManager) Sources() map[string]string {
	m.kindsMu.RLock()
	defer m.kindsMu.RUnlock()
	out := make(map[string]string, len(m.kinds))
	for k, v := range m.kinds {
		out[k] = v
	}
	return out
}

// Shutdown stops every source and the loop. It is idempotent.
func (m *SourceManager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		started := m.started
		m.mu.Unlock()

		m.check.Stop()
		close(m.quit)
		if started {
			<-m.stopped
		} else {
			m.teardown()
		}
	})
}

func (m *SourceManager) post(fn func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *SourceManager) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.quit:
			m.teardown()
			return
		case <-m.wake:
		}
		for {
			m.mu.Lock()
			batch := m.queue
			m.queue = nil
			m.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
	}
}

func (m *SourceManager) activate(symbol string) {
	if _, ok := m.sources[symbol]; ok {
		return
	}
	in, ok := m.cfg.Catalog.Lookup(symbol)
	if !ok || !in.Enabled {
		m.logger.Warn("ignoring activation of unknown instrument", applogger.String("symbol", symbol))
		return
	}
	src := &source{in: in}
	m.sources[symbol] = src
	if m.wantsUpstream(in) {
		m.connect(src)
	} else {
		m.startSynthetic(src, "market closed")
	}
	m.publishKinds()
}

func (m *SourceManager) deactivate(symbol string) {
	src, ok := m.sources[symbol]
	if !ok {
		return
	}
	m.stopAll(src)
	delete(m.sources, symbol)
	m.logger.Info("source released", applogger.String("symbol", symbol))
	m.publishKinds()
}

func (m *SourceManager) wantsUpstream(in models.Instrument) bool {
	return in.Category == models.CategoryCrypto || m.cfg.Evaluator.IsOpen(in.Category, m.cfg.Now())
}

func (m *SourceManager) cooldownKey(in models.Instrument) string {
	return m.cfg.Factory.ProviderFor(in) + ":" + in.Symbol
}

// connect dials the upstream for src. Every dial, the first included, spends
// the cooldown for its provider and symbol; a denied dial is retried once the
// period has passed. It reports whether a dial was made.
func (m *SourceManager) connect(src *source) bool {
	if !m.cfg.Cooldown.Allow(m.cooldownKey(src.in)) {
		m.logger.Debug("upstream dial deferred by cooldown",
			applogger.String("symbol", src.in.Symbol),
			applogger.Duration("cooldown", m.cfg.Cooldown.Period()))
		m.scheduleReconnect(src, m.cfg.Cooldown.Period())
		return false
	}
	conn, err := m.cfg.Factory.New(src.in)
	if err != nil {
		m.logger.Warn("upstream unavailable",
			applogger.String("symbol", src.in.Symbol),
			applogger.Error(err))
		m.fallback(src, err)
		return true
	}

	src.gen++
	src.conn = conn
	gen, symbol := src.gen, src.in.Symbol
	src.connTask = m.cfg.Scheduler.Go(func(ctx context.Context) {
		var first sync.Once
		err := conn.Run(ctx, func(t models.Tick) {
			first.Do(func() { m.post(func() { m.promote(symbol, gen) }) })
			_ = m.cfg.Sink.Process(ctx, t)
		})
		m.post(func() { m.connectionEnded(symbol, gen, err) })
	})
	m.logger.Info("upstream connecting",
		applogger.String("symbol", symbol),
		applogger.String("provider", conn.Provider()))
	return true
}

// promote makes a connection that delivered data authoritative, retiring any
// engine that was covering for it.
func (m *SourceManager) promote(symbol string, gen int) {
	src, ok := m.sources[symbol]
	if !ok || src.gen != gen || src.conn == nil {
		return
	}
	src.realSeen = true
	src.fellBack = false
	if src.engine {
		m.cfg.Registry.Stop(symbol)
		src.engine = false
		m.logger.Info("handoff to upstream", applogger.String("symbol", symbol))
		m.publishKinds()
	}
}

func (m *SourceManager) connectionEnded(symbol string, gen int, err error) {
	src, ok := m.sources[symbol]
	if !ok || src.gen != gen || src.conn == nil {
		return
	}
	src.conn = nil
	src.connTask = nil

	if errors.Is(err, upstream.ErrNoData) || errors.Is(err, upstream.ErrRejected) {
		m.logger.Warn("upstream gave no data",
			applogger.String("symbol", symbol),
			applogger.Error(err))
		m.fallback(src, err)
		m.publishKinds()
		return
	}
	m.logger.Warn("upstream connection lost",
		applogger.String("symbol", symbol),
		applogger.Error(err))
	m.scheduleReconnect(src, m.cfg.ReconnectDelay)
	m.publishKinds()
}

// fallback covers for an upstream that cannot serve. Crypto is never
// synthesized, so it only retries.
func (m *SourceManager) fallback(src *source, cause error) {
	if src.in.Category == models.CategoryCrypto {
		m.scheduleReconnect(src, m.cfg.ReconnectDelay)
		return
	}
	src.fellBack = true
	if !src.engine {
		m.startSynthetic(src, cause.Error())
	}
	m.publishKinds()
}

func (m *SourceManager) scheduleReconnect(src *source, delay time.Duration) {
	if src.retry != nil {
		return
	}
	symbol := src.in.Symbol
	src.retry = m.cfg.Scheduler.After(delay, func(context.Context) {
		m.post(func() { m.reconnect(symbol) })
	})
}

func (m *SourceManager) reconnect(symbol string) {
	src, ok := m.sources[symbol]
	if !ok {
		return
	}
	src.retry = nil
	if src.conn != nil {
		return
	}
	if !m.wantsUpstream(src.in) {
		if !src.engine {
			m.startSynthetic(src, "market closed")
		}
		m.publishKinds()
		return
	}
	if m.connect(src) {
		m.cfg.Metrics.RecordReconnect(m.cfg.Factory.ProviderFor(src.in), symbol)
	}
	m.publishKinds()
}

func (m *SourceManager) recheck() {
	symbols := make([]string, 0, len(m.sources))
	for s := range m.sources {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		src := m.sources[symbol]
		want := m.wantsUpstream(src.in)
		switch {
		case want && src.conn == nil && src.retry == nil:
			// Engine covering either a closed market that just opened or a
			// provider that failed earlier. connect applies the cooldown.
			m.connect(src)
		case !want && (src.conn != nil || src.retry != nil):
			m.stopUpstream(src)
			if !src.engine {
				m.startSynthetic(src, "market closed")
			}
			src.fellBack = false
		}
	}
	m.publishKinds()
}

func (m *SourceManager) startSynthetic(src *source, reason string) {
	symbol := src.in.Symbol
	anchor, known := m.anchorFor(src.in)
	m.cfg.Registry.Start(symbol, src.in.Category, anchor)
	src.engine = true
	src.anchor = anchor
	m.logger.Info("synthetic source active",
		applogger.String("symbol", symbol),
		applogger.String("reason", reason),
		applogger.Float64("anchor", anchor),
		applogger.Bool("anchor_known", known))

	if !known && m.cfg.Closes != nil {
		m.cfg.Scheduler.Go(func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, closeLookupTimeout)
			defer cancel()
			price, err := m.cfg.Closes.LatestClose(ctx, symbol)
			if err != nil {
				m.logger.Debug("latest close lookup failed", applogger.String("symbol", symbol), applogger.Error(err))
				return
			}
			m.post(func() { m.reanchor(symbol, price) })
		})
	}
}

func (m *SourceManager) reanchor(symbol string, price float64) {
	src, ok := m.sources[symbol]
	if !ok || !src.engine || src.realSeen || price <= 0 || src.anchor <= 0 {
		return
	}
	if math.Abs(price-src.anchor)/src.anchor <= reanchorThreshold {
		return
	}
	if m.cfg.Registry.UpdateBasePrice(symbol, price) {
		m.logger.Info("synthetic engine re-anchored",
			applogger.String("symbol", symbol),
			applogger.Float64("from", src.anchor),
			applogger.Float64("to", price))
		src.anchor = price
	}
}

// anchorFor picks the price a new engine starts from: the last real tick seen
// in this process, then the Store if it holds a real tick, then the catalog.
func (m *SourceManager) anchorFor(in models.Instrument) (float64, bool) {
	if m.cfg.Prices != nil {
		if p, ok := m.cfg.Prices.LastRealPrice(in.Symbol); ok && p > 0 {
			return p, true
		}
	}
	if m.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		t, err := m.cfg.Store.Get(ctx, in.Symbol)
		cancel()
		if err == nil && !t.IsOTC && !t.IsSynthetic && t.Price > 0 {
			return t.Price, true
		}
	}
	return m.cfg.Catalog.DefaultPrice(in.Symbol), false
}

func (m *SourceManager) stopUpstream(src *source) {
	if src.retry != nil {
		src.retry.Cancel()
		src.retry = nil
	}
	if src.conn != nil {
		src.conn.Close()
		// Stop waits for the read loop so no upstream tick lands after a handoff.
		src.connTask.Stop()
		src.conn = nil
		src.connTask = nil
	}
}

func (m *SourceManager) stopAll(src *source) {
	m.stopUpstream(src)
	if src.engine {
		m.cfg.Registry.Stop(src.in.Symbol)
		src.engine = false
	}
}

func (m *SourceManager) teardown() {
	for symbol, src := range m.sources {
		m.stopAll(src)
		delete(m.sources, symbol)
	}
	m.cfg.Registry.StopAll()
	m.publishKinds()
	m.logger.Info("source manager stopped")
}

func (m *SourceManager) publishKinds() {
	kinds := make(map[string]string, len(m.sources))
	counts := map[string]int{"upstream": 0, "synthetic": 0}
	for symbol, src := range m.sources {
		k := src.kind()
		kinds[symbol] = k
		counts[k]++
	}
	m.kindsMu.Lock()
	m.kinds = kinds
	m.kindsMu.Unlock()
	m.cfg.Metrics.SetActiveSources("upstream", counts["upstream"])
	m.cfg.Metrics.SetActiveSources("synthetic", counts["synthetic"])
}
