package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"OTCFeed/internal/service/normalizer"
	applogger "OTCFeed/pkg/logger"
)

const ProviderTwelveData = "twelvedata"

type twelveDataAction struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

// TwelveData streams price events for forex, stocks, indices and commodities.
// A subscription rejected once is retried with the slash-less symbol form.
type TwelveData struct {
	base
	baseURL        string
	apiKey         string
	providerSymbol string
	now            func() time.Time
}

func NewTwelveData(baseURL, apiKey, symbol, providerSymbol string, opts Options) *TwelveData {
	if providerSymbol == "" {
		providerSymbol = symbol
	}
	return &TwelveData{
		base:           newBase(ProviderTwelveData, symbol, opts),
		baseURL:        baseURL,
		apiKey:         apiKey,
		providerSymbol: providerSymbol,
		now:            time.Now,
	}
}

func (c *TwelveData) URL() string {
	return c.baseURL + "?apikey=" + url.QueryEscape(c.apiKey)
}

func (c *TwelveData) Run(ctx context.Context, emit EmitFunc) error {
	return c.session(ctx, c.URL(), func(ctx context.Context, s *stream) error {
		if err := s.writeJSON(subscribe(c.providerSymbol)); err != nil {
			return fmt.Errorf("twelvedata subscribe %s: %w", c.symbol, err)
		}

		events := make(chan []byte, 64)
		readErr := make(chan error, 1)
		go func() {
			for {
				payload, err := s.read()
				if err != nil {
					readErr <- err
					return
				}
				select {
				case events <- payload:
				case <-ctx.Done():
					return
				}
			}
		}()

		heartbeat := time.NewTicker(c.opts.PingInterval)
		defer heartbeat.Stop()
		noData := time.NewTimer(c.opts.NoDataTimeout)
		defer noData.Stop()

		var (
			subscribed  bool
			gotPrice    bool
			retried     bool
			lastPrice   float64
			noDataFired <-chan time.Time = noData.C
		)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-readErr:
				if !gotPrice {
					return fmt.Errorf("twelvedata %s closed before any price: %w", c.symbol, ErrNoData)
				}
				return fmt.Errorf("twelvedata read %s: %w", c.symbol, err)
			case <-noDataFired:
				c.logger.Warn("no price data from provider", applogger.Duration("timeout", c.opts.NoDataTimeout))
				return fmt.Errorf("twelvedata %s: %w", c.symbol, ErrNoData)
			case <-heartbeat.C:
				if subscribed {
					if err := s.writeJSON(twelveDataAction{Action: "heartbeat"}); err != nil {
						return fmt.Errorf("twelvedata heartbeat %s: %w", c.symbol, err)
					}
				}
			case payload := <-events:
				ev, err := normalizer.ParseTwelveData(payload, c.symbol, c.now())
				if errors.Is(err, normalizer.ErrIgnored) {
					continue
				}
				if err != nil {
					c.malformed(err)
					continue
				}
				switch ev.Kind {
				case normalizer.EventHeartbeat:
				case normalizer.EventSubscribed:
					subscribed = true
				case normalizer.EventSubscribeRejected:
					if subscribed || retried {
						return fmt.Errorf("twelvedata %s: %w: %s", c.symbol, ErrRejected, ev.Message)
					}
					retried = true
					alt := strings.ReplaceAll(c.providerSymbol, "/", "")
					c.logger.Warn("subscription rejected, retrying without slash", applogger.String("provider_symbol", alt))
					if err := s.writeJSON(subscribe(alt)); err != nil {
						return fmt.Errorf("twelvedata resubscribe %s: %w", c.symbol, err)
					}
				case normalizer.EventError:
					return fmt.Errorf("twelvedata %s: %w: %s", c.symbol, ErrRejected, ev.Message)
				case normalizer.EventPrice:
					subscribed = true
					if !gotPrice {
						gotPrice = true
						noData.Stop()
						noDataFired = nil
					}
					tick := ev.Tick
					if lastPrice > 0 {
						tick.Change = tick.Price - lastPrice
						tick.ChangePercent = tick.Change / lastPrice * 100
					}
					lastPrice = tick.Price
					emit(tick)
				}
			}
		}
	})
}

func subscribe(symbol string) twelveDataAction {
	return twelveDataAction{Action: "subscribe", Params: map[string]string{"symbols": symbol}}
}
