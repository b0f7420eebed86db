package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	pkgkafka "OTCFeed/pkg/kafka"
	applogger "OTCFeed/pkg/logger"
)

// pendingBatches bounds how many unflushed batches are kept while the archive is down.
const pendingBatches = 10

// KafkaTicksHandler consumes journaled ticks and writes them to the archive in
// batches. Flush is called when a batch fills and on a timer by the owner.
type KafkaTicksHandler struct {
	topic     string
	archive   domrepo.Archive
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	batchSize int
	now       func() time.Time

	mu      sync.Mutex
	pending []models.Tick
}

func NewKafkaTicksHandler(topic string, archive domrepo.Archive, batchSize int, metrics domrepo.Metrics, logger *applogger.Logger) *KafkaTicksHandler {
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = applogger.Nop()
	}
	return &KafkaTicksHandler{
		topic:     topic,
		archive:   archive,
		metrics:   metrics,
		logger:    logger.With(applogger.String("component", "tick_archiver")),
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// Handle decodes one canonical tick. Undecodable and invalid messages are
// dropped, since a retry cannot fix them.
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var t models.Tick
	if err := json.Unmarshal(b, &t); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		h.logger.Warn("dropping undecodable tick", applogger.Error(err))
		return nil
	}
	if t.Symbol == "" || t.Price <= 0 || t.Timestamp <= 0 {
		h.metrics.RecordError("consumer_invalid")
		return nil
	}
	h.metrics.RecordLatency("journal_lag", h.now().Sub(time.UnixMilli(t.Timestamp)).Seconds())

	h.mu.Lock()
	h.pending = append(h.pending, t)
	full := len(h.pending) >= h.batchSize
	h.mu.Unlock()

	if full {
		h.Flush(ctx)
	}
	return nil
}

// Flush writes every pending tick. On failure the ticks stay pending, up to a
// bound beyond which the oldest are dropped.
func (h *KafkaTicksHandler) Flush(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return
	}

	start := h.now()
	err := h.archive.StoreBatch(ctx, h.pending)
	h.metrics.RecordLatency("archive_insert", h.now().Sub(start).Seconds())
	if err == nil {
		h.pending = h.pending[:0]
		return
	}

	h.metrics.RecordError("archive_flush")
	limit := h.batchSize * pendingBatches
	if over := len(h.pending) - limit; over > 0 {
		h.pending = append(h.pending[:0], h.pending[over:]...)
		h.logger.Warn("archive backlog full, dropping oldest ticks", applogger.Int("dropped", over))
	}
	h.logger.Warn("archive flush failed",
		applogger.Int("pending", len(h.pending)),
		applogger.Error(err))
}

// Pending returns the number of ticks waiting for the next flush.
func (h *KafkaTicksHandler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
