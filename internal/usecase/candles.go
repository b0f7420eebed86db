package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/internal/service/catalog"
	"OTCFeed/internal/service/markethours"
	"OTCFeed/internal/service/otc"
	"OTCFeed/internal/service/provider"
	applogger "OTCFeed/pkg/logger"
)

const (
	defaultCandleLimit = 300
	maxCandleLimit     = 1000
)

// Candle sources reported in GetCandlesResult.Source.
const (
	CandleSourceSynthetic = "synthetic"
	CandleSourceArchive   = "archive"
)

// CandlesDeps holds the collaborators of a CandlesUseCase. Archive, Closes and
// the provider sources are optional.
type CandlesDeps struct {
	Catalog   *catalog.Catalog
	Evaluator *markethours.Evaluator
	Registry  *otc.Registry
	Prices    RealPrices
	Closes    CloseLookup
	Crypto    domrepo.CandleSource
	Market    domrepo.CandleSource
	Archive   domrepo.Archive
	Logger    *applogger.Logger
	Now       func() time.Time
}

// CandlesUseCase answers historical candle queries from the source that fits
// the instrument's current market status.
type CandlesUseCase struct {
	deps   CandlesDeps
	logger *applogger.Logger
}

func NewCandlesUseCase(deps CandlesDeps) *CandlesUseCase {
	if deps.Logger == nil {
		deps.Logger = applogger.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &CandlesUseCase{deps: deps, logger: deps.Logger.With(applogger.String("component", "candles"))}
}

type GetCandlesParams struct {
	Symbol    string
	Timeframe domrepo.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string
	Timeframe string
	Source    string
	IsOTC     bool
	Count     int
	Candles   []models.Candle
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	in, ok := uc.deps.Catalog.Lookup(p.Symbol)
	if !ok || !in.Enabled {
		return nil, ErrUnknownInstrument
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		p.Timeframe = domrepo.DefaultTimeframe()
	}
	if p.Limit <= 0 {
		p.Limit = defaultCandleLimit
	}
	if p.Limit > maxCandleLimit {
		p.Limit = maxCandleLimit
	}

	res := &GetCandlesResult{Symbol: in.Symbol, Timeframe: string(p.Timeframe)}
	candles, source, err := uc.fetch(ctx, in, p)
	if err != nil {
		return nil, err
	}
	if candles == nil {
		candles = []models.Candle{}
	}
	res.Source = source
	res.IsOTC = source == CandleSourceSynthetic
	res.Count = len(candles)
	res.Candles = candles
	return res, nil
}

func (uc *CandlesUseCase) fetch(ctx context.Context, in models.Instrument, p GetCandlesParams) ([]models.Candle, string, error) {
	if in.Category == models.CategoryCrypto {
		if uc.deps.Crypto == nil {
			return nil, "", fmt.Errorf("no crypto candle source")
		}
		return uc.fromProvider(ctx, uc.deps.Crypto, in, p)
	}

	if !uc.deps.Evaluator.IsOpen(in.Category, uc.deps.Now()) {
		return uc.synthetic(ctx, in, p), CandleSourceSynthetic, nil
	}

	if uc.deps.Archive != nil {
		to := uc.deps.Now()
		from := to.Add(-time.Duration(p.Limit) * p.Timeframe.Duration())
		candles, err := uc.deps.Archive.Candles(ctx, in.Symbol, p.Timeframe, from, to, p.Limit)
		if err == nil && len(candles) > 0 {
			return candles, CandleSourceArchive, nil
		}
		if err != nil {
			uc.logger.Warn("archive candles failed",
				applogger.String("symbol", in.Symbol),
				applogger.Error(err))
		}
	}

	if !configured(uc.deps.Market) {
		return uc.synthetic(ctx, in, p), CandleSourceSynthetic, nil
	}
	return uc.fromProvider(ctx, uc.deps.Market, in, p)
}

func (uc *CandlesUseCase) fromProvider(ctx context.Context, src domrepo.CandleSource, in models.Instrument, p GetCandlesParams) ([]models.Candle, string, error) {
	candles, err := src.Candles(ctx, in.Symbol, p.Timeframe, p.Limit)
	if errors.Is(err, provider.ErrUnsupportedSymbol) {
		uc.logger.Debug("symbol not served by provider",
			applogger.String("symbol", in.Symbol),
			applogger.String("provider", src.Name()))
		return []models.Candle{}, src.Name(), nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s candles: %w", src.Name(), err)
	}
	return candles, src.Name(), nil
}

func (uc *CandlesUseCase) synthetic(ctx context.Context, in models.Instrument, p GetCandlesParams) []models.Candle {
	anchor := uc.anchor(ctx, in)
	return uc.deps.Registry.Historical(in.Symbol, in.Category, anchor, p.Limit, p.Timeframe.Duration())
}

// anchor prefers the last real price, then a fetched close, then the catalog default.
func (uc *CandlesUseCase) anchor(ctx context.Context, in models.Instrument) float64 {
	if uc.deps.Prices != nil {
		if p, ok := uc.deps.Prices.LastRealPrice(in.Symbol); ok && p > 0 {
			return p
		}
	}
	if uc.deps.Closes != nil {
		ctx, cancel := context.WithTimeout(ctx, closeLookupTimeout)
		defer cancel()
		if p, err := uc.deps.Closes.LatestClose(ctx, in.Symbol); err == nil && p > 0 {
			return p
		}
	}
	return uc.deps.Catalog.DefaultPrice(in.Symbol)
}

func configured(src domrepo.CandleSource) bool {
	if src == nil {
		return false
	}
	if c, ok := src.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}
