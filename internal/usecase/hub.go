package usecase

import (
	"sort"
	"sync"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	applogger "OTCFeed/pkg/logger"
)

// Subscriber is one downstream connection. Send must not block: a full or
// closed outbound buffer is reported as an error.
type Subscriber interface {
	ID() string
	Send(msg interface{}) error
	Close()
}

// Lifecycle is told when a symbol gains its first subscriber and when it loses
// its last one. Calls are made under the hub lock, so implementations must
// return quickly and must not call back into the Hub.
type Lifecycle interface {
	OnActive(symbol string)
	OnIdle(symbol string)
}

// Hub keeps the symbol to subscriber relation in both directions under one
// mutex: a subscriber is listed under a symbol iff the symbol is listed under
// the subscriber.
type Hub struct {
	mu        sync.Mutex
	bySymbol  map[string]map[string]Subscriber
	bySub     map[string]map[string]struct{}
	subs      map[string]Subscriber
	draining  bool
	lifecycle Lifecycle
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	now       func() time.Time
}

func NewHub(metrics domrepo.Metrics, logger *applogger.Logger) *Hub {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &Hub{
		bySymbol: make(map[string]map[string]Subscriber),
		bySub:    make(map[string]map[string]struct{}),
		subs:     make(map[string]Subscriber),
		metrics:  metrics,
		logger:   logger.With(applogger.String("component", "hub")),
		now:      time.Now,
	}
}

// SetLifecycle installs the lifecycle listener. Call before serving subscribers.
func (h *Hub) SetLifecycle(l Lifecycle) {
	h.mu.Lock()
	h.lifecycle = l
	h.mu.Unlock()
}

// Subscribe adds sub under symbol. It returns true when sub is the symbol's
// first subscriber. Subscribing twice is a no-op.
func (h *Hub) Subscribe(sub Subscriber, symbol string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}

	id := sub.ID()
	if _, ok := h.bySub[id][symbol]; ok {
		return false
	}
	set, ok := h.bySymbol[symbol]
	first := !ok || len(set) == 0
	if !ok {
		set = make(map[string]Subscriber)
		h.bySymbol[symbol] = set
	}
	set[id] = sub
	if h.bySub[id] == nil {
		h.bySub[id] = make(map[string]struct{})
	}
	h.bySub[id][symbol] = struct{}{}
	h.subs[id] = sub
	h.metrics.SetSubscribers(len(h.subs))

	if first && h.lifecycle != nil {
		h.lifecycle.OnActive(symbol)
	}
	return first
}

// Unsubscribe removes sub from symbol. The subscriber stays registered.
func (h *Hub) Unsubscribe(sub Subscriber, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(sub.ID(), symbol)
}

// Remove drops every membership of sub at once.
func (h *Hub) Remove(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := sub.ID()
	for symbol := range h.bySub[id] {
		h.unsubscribeLocked(id, symbol)
	}
	delete(h.bySub, id)
	delete(h.subs, id)
	h.metrics.SetSubscribers(len(h.subs))
}

func (h *Hub) unsubscribeLocked(id, symbol string) {
	set, ok := h.bySymbol[symbol]
	if !ok {
		return
	}
	if _, member := set[id]; !member {
		return
	}
	delete(set, id)
	if syms := h.bySub[id]; syms != nil {
		delete(syms, symbol)
	}
	if len(set) == 0 {
		delete(h.bySymbol, symbol)
		if h.lifecycle != nil && !h.draining {
			h.lifecycle.OnIdle(symbol)
		}
	}
}

// Publish sends t to every subscriber of its symbol and returns the number of
// successful deliveries. A failed send removes and closes the subscriber.
func (h *Hub) Publish(t models.Tick) int {
	h.mu.Lock()
	set := h.bySymbol[t.Symbol]
	targets := make([]Subscriber, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return 0
	}
	msg := models.TickMessage{Type: models.MessageTick, Data: t}
	delivered := 0
	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			h.logger.Debug("dropping subscriber after failed send",
				applogger.String("subscriber", s.ID()),
				applogger.String("symbol", t.Symbol),
				applogger.Error(err))
			h.metrics.RecordError("fanout_send")
			h.Remove(s)
			s.Close()
			continue
		}
		delivered++
	}
	h.metrics.RecordFanout(t.Symbol, delivered)
	return delivered
}

// Subscribers returns the ids subscribed to symbol, sorted.
func (h *Hub) Subscribers(symbol string) []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.bySymbol[symbol]))
	for id := range h.bySymbol[symbol] {
		out = append(out, id)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}

// Symbols returns the symbols sub is subscribed to, sorted.
func (h *Hub) Symbols(sub Subscriber) []string {
	h.mu.Lock()
	syms := h.bySub[sub.ID()]
	out := make([]string, 0, len(syms))
	for s := range syms {
		out = append(out, s)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}

// ActiveSymbols returns every symbol with at least one subscriber, sorted.
func (h *Hub) ActiveSymbols() []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.bySymbol))
	for s := range h.bySymbol {
		out = append(out, s)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Drain tells every subscriber the server is going away, closes them and
// refuses new subscriptions. Sources are torn down by their owner, not here.
func (h *Hub) Drain() {
	h.mu.Lock()
	h.draining = true
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.bySub = make(map[string]map[string]struct{})
	h.bySymbol = make(map[string]map[string]Subscriber)
	h.mu.Unlock()

	notice := models.NoticeMessage{
		Type:      models.MessageServerShutdown,
		Message:   "server shutting down",
		Timestamp: h.now().UnixMilli(),
	}
	for _, s := range subs {
		_ = s.Send(notice)
		s.Close()
	}
	h.metrics.SetSubscribers(0)
	h.logger.Info("hub drained", applogger.Int("subscribers", len(subs)))
}
