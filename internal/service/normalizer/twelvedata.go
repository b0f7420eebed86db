package normalizer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"OTCFeed/internal/domain/models"
	"OTCFeed/pkg/util"
)

// EventKind classifies a TwelveData stream frame.
type EventKind int

const (
	EventPrice EventKind = iota
	EventHeartbeat
	EventSubscribed
	EventSubscribeRejected
	EventError
)

// TwelveDataEvent is one decoded frame. Tick is set only for EventPrice.
type TwelveDataEvent struct {
	Kind    EventKind
	Tick    models.Tick
	Message string
}

type twelveDataFrame struct {
	Event     string          `json:"event"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Code      int             `json:"code"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	DayVolume decimal.Decimal `json:"day_volume"`
	Timestamp decimal.Decimal `json:"timestamp"`
}

// ParseTwelveData decodes a price-stream frame for symbol. Frames without a
// timestamp are stamped with receivedAt.
func ParseTwelveData(payload []byte, symbol string, receivedAt time.Time) (TwelveDataEvent, error) {
	var f twelveDataFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return TwelveDataEvent{}, fmt.Errorf("twelvedata: %w: %v", ErrMalformed, err)
	}

	switch {
	case f.Event == "heartbeat" || f.Type == "heartbeat":
		return TwelveDataEvent{Kind: EventHeartbeat}, nil
	case f.Event == "subscribe-status" && f.Status == "ok":
		return TwelveDataEvent{Kind: EventSubscribed}, nil
	case f.Event == "subscribe-status" && f.Status == "error":
		return TwelveDataEvent{Kind: EventSubscribeRejected, Message: f.Message}, nil
	case f.Status == "error" || f.Code >= 400:
		return TwelveDataEvent{Kind: EventError, Message: f.Message}, nil
	case f.Event != "price" && f.Type != "price" && f.Type != "quote":
		return TwelveDataEvent{}, ErrIgnored
	}

	price, ok := positive(f.Price)
	if !ok {
		return TwelveDataEvent{}, fmt.Errorf("twelvedata: %w: price %s", ErrMalformed, f.Price)
	}
	ts := receivedAt.UnixMilli()
	if f.Timestamp.IsPositive() {
		ts = util.NormalizeMillis(f.Timestamp.IntPart())
	}
	bid, ok := positive(f.Bid)
	if !ok {
		bid = price
	}
	ask, ok := positive(f.Ask)
	if !ok {
		ask = price
	}
	return TwelveDataEvent{
		Kind: EventPrice,
		Tick: models.Tick{
			Symbol:    symbol,
			Price:     price,
			Timestamp: ts,
			Volume:    nonNegative(f.DayVolume),
			Bid:       bid,
			Ask:       ask,
		},
	}, nil
}
