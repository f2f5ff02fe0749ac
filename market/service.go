package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"portfolio-tracker/config"
	"portfolio-tracker/models"
)

// Source is the upstream quote provider.
type Source interface {
	Quote(ctx context.Context, symbol string) (float64, error)
	DailyCloses(ctx context.Context, symbol string) ([]models.PricePoint, error)
}

// Service answers price questions from the quote cache and the history
// store, going upstream on a miss. It satisfies valuation.Oracle,
// ledger.PriceSource and ledger.Invalidator.
type Service struct {
	source     Source
	history    HistoryStore
	cache      *Cache
	historyTTL time.Duration
	logger     *config.Logger
	now        func() time.Time

	mu      sync.Mutex
	fetched map[string]time.Time
	locks   map[string]*sync.Mutex
}

type ServiceOption func(*Service)

// WithCache enables the Redis quote cache. Without it every current price
// goes upstream and history freshness is tracked in process.
func WithCache(c *Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

func WithHistoryTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.historyTTL = ttl }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(source Source, history HistoryStore, logger *config.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = config.NewSilentLogger()
	}
	s := &Service{
		source:     source,
		history:    history,
		historyTTL: 24 * time.Hour,
		logger:     logger,
		now:        time.Now,
		fetched:    map[string]time.Time{},
		locks:      map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// CurrentPrice returns the latest price for symbol.
func (s *Service) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = normalizeSymbol(symbol)
	if s.cache != nil {
		price, ok, err := s.cache.Quote(ctx, symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote cache read failed")
		} else if ok {
			return price, nil
		}
	}

	price, err := s.source.Quote(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("invalid quote %v for %s", price, symbol)
	}
	if s.cache != nil {
		if err := s.cache.SetQuote(ctx, symbol, price); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote cache write failed")
		}
	}
	return price, nil
}

// CurrentPrices returns the latest prices for the distinct symbols given.
// Symbols without a price are left out.
func (s *Service) CurrentPrices(ctx context.Context, symbols []string) map[string]float64 {
	seen := map[string]bool{}
	var distinct []string
	for _, sym := range symbols {
		sym = normalizeSymbol(sym)
		if sym != "" && !seen[sym] {
			seen[sym] = true
			distinct = append(distinct, sym)
		}
	}

	prices := map[string]float64{}
	if s.cache != nil {
		cached, err := s.cache.Quotes(ctx, distinct)
		if err != nil {
			s.logger.Warn().Err(err).Msg("quote cache read failed")
		}
		for sym, p := range cached {
			prices[sym] = p
		}
	}
	for _, sym := range distinct {
		if _, ok := prices[sym]; ok {
			continue
		}
		price, err := s.CurrentPrice(ctx, sym)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", sym).Msg("current price unavailable")
			continue
		}
		prices[sym] = price
	}
	return prices
}

// Closes returns the stored closes for symbol from from onwards, refreshing
// the store from upstream when it is stale.
func (s *Service) Closes(ctx context.Context, symbol string, from time.Time) ([]models.PricePoint, error) {
	symbol = normalizeSymbol(symbol)
	if err := s.ensureHistory(ctx, symbol); err != nil {
		return nil, err
	}
	points, err := s.history.Closes(ctx, symbol, from, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to read closes for %s: %w", symbol, err)
	}
	return points, nil
}

// PriceHistory is Closes with failures logged and reported as no data.
func (s *Service) PriceHistory(ctx context.Context, ticker string, from time.Time) []models.PricePoint {
	points, err := s.Closes(ctx, ticker, from)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", ticker).Msg("price history unavailable")
		return nil
	}
	return points
}

// PriceOnDate returns the close of ticker on date. Stored closes are
// used without checking freshness since past closes do not change.
func (s *Service) PriceOnDate(ctx context.Context, ticker string, date time.Time) (float64, bool) {
	symbol := normalizeSymbol(ticker)
	day := models.Day(date)
	if price, ok := s.storedClose(ctx, symbol, day); ok {
		return price, true
	}
	if err := s.ensureHistory(ctx, symbol); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Str("date", models.DateKey(day)).Msg("price on date unavailable")
		return 0, false
	}
	return s.storedClose(ctx, symbol, day)
}

func (s *Service) storedClose(ctx context.Context, symbol string, day time.Time) (float64, bool) {
	points, err := s.history.Closes(ctx, symbol, day, day)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("close lookup failed")
		return 0, false
	}
	if len(points) == 0 || points[0].Close <= 0 {
		return 0, false
	}
	return points[0].Close, true
}

// Invalidate drops cached quotes for tickers.
func (s *Service) Invalidate(ctx context.Context, tickers ...string) {
	if s.cache == nil || len(tickers) == 0 {
		return
	}
	symbols := make([]string, len(tickers))
	for i, t := range tickers {
		symbols[i] = normalizeSymbol(t)
	}
	if err := s.cache.Invalidate(ctx, symbols...); err != nil {
		s.logger.Warn().Err(err).Strs("symbols", symbols).Msg("quote invalidation failed")
	}
}

func (s *Service) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	return l
}

// ensureHistory refreshes the stored closes for symbol once per history
// TTL. Concurrent callers for the same symbol share one upstream fetch.
func (s *Service) ensureHistory(ctx context.Context, symbol string) error {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	if s.historyFresh(ctx, symbol) {
		return nil
	}

	points, err := s.source.DailyCloses(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch history for %s: %w", symbol, err)
	}
	if err := s.history.SaveCloses(ctx, symbol, points); err != nil {
		return fmt.Errorf("failed to store history for %s: %w", symbol, err)
	}
	s.logger.Info().Str("symbol", symbol).Int("closes", len(points)).Msg("price history refreshed")
	s.markHistory(ctx, symbol)
	return nil
}

func (s *Service) historyFresh(ctx context.Context, symbol string) bool {
	if s.cache != nil {
		fresh, err := s.cache.HistoryFresh(ctx, symbol)
		if err == nil {
			return fresh
		}
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("history marker read failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.fetched[symbol]
	return ok && s.now().Sub(at) < s.historyTTL
}

func (s *Service) markHistory(ctx context.Context, symbol string) {
	s.mu.Lock()
	s.fetched[symbol] = s.now()
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.MarkHistory(ctx, symbol); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("history marker write failed")
		}
	}
}
