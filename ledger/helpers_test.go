package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/config"
	"portfolio-tracker/models"
)

const testOwner uint = 1

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fakePrices serves closes keyed by "TICKER|2006-01-02".
type fakePrices map[string]float64

func (f fakePrices) PriceOnDate(_ context.Context, ticker string, d time.Time) (float64, bool) {
	p, ok := f[ticker+"|"+models.DateKey(d)]
	return p, ok
}

type recordingInvalidator struct {
	mu      sync.Mutex
	tickers []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tickers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickers = append(r.tickers, tickers...)
}

func newTestService(opts ...Option) *Service {
	return NewService(NewMemoryStore(), config.NewSilentLogger(), opts...)
}

func mustAddLot(t *testing.T, svc *Service, ticker string, d time.Time, shares float64, price string) *models.Lot {
	t.Helper()
	lot, err := svc.AddLot(context.Background(), testOwner, LotRequest{
		Ticker:       ticker,
		PurchaseDate: d,
		Shares:       shares,
		Price:        decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return lot
}

// seedExample records the three TICK lots used throughout the tests:
// 100 @ 150, 50 @ 160, 75 @ 155.
func seedExample(t *testing.T, svc *Service) []*models.Lot {
	t.Helper()
	return []*models.Lot{
		mustAddLot(t, svc, "TICK", date(2024, 1, 15), 100, "150"),
		mustAddLot(t, svc, "TICK", date(2024, 3, 20), 50, "160"),
		mustAddLot(t, svc, "TICK", date(2024, 5, 10), 75, "155"),
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func remainingByLot(t *testing.T, svc *Service) map[uint]float64 {
	t.Helper()
	lots, err := svc.ListLots(context.Background(), testOwner)
	require.NoError(t, err)
	out := make(map[uint]float64, len(lots))
	for _, l := range lots {
		out[l.ID] = l.SharesRemaining()
	}
	return out
}
