package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/models"
)

func TestCreateSale_SpillsAcrossLotsOldestFirst(t *testing.T) {
	svc := newTestService()
	lots := seedExample(t, svc)

	sale, err := svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker:   "TICK",
		SaleDate: date(2024, 6, 1),
		Shares:   120,
		Price:    decimal.NewFromInt(170),
	})
	require.NoError(t, err)

	require.Len(t, sale.Assignments, 2)
	first, second := sale.Assignments[0], sale.Assignments[1]

	assert.Equal(t, lots[0].ID, first.LotID)
	assert.InDelta(t, 100, first.SharesAssigned, Epsilon)
	assertDecimal(t, "15000", first.CostBasis)
	assertDecimal(t, "17000", first.Proceeds)
	assertDecimal(t, "2000", first.RealizedGainLoss)

	assert.Equal(t, lots[1].ID, second.LotID)
	assert.InDelta(t, 20, second.SharesAssigned, Epsilon)
	assertDecimal(t, "3200", second.CostBasis)
	assertDecimal(t, "3400", second.Proceeds)
	assertDecimal(t, "200", second.RealizedGainLoss)

	assertDecimal(t, "20400", sale.TotalProceeds)
	assertDecimal(t, "2200", sale.RealizedGainLoss())
	assert.InDelta(t, 120, sale.SharesAssigned(), Epsilon)

	remaining := remainingByLot(t, svc)
	assert.InDelta(t, 0, remaining[lots[0].ID], Epsilon)
	assert.InDelta(t, 30, remaining[lots[1].ID], Epsilon)
	assert.InDelta(t, 75, remaining[lots[2].ID], Epsilon)
}

func TestCreateSale_SmallSaleTouchesOnlyOldestLot(t *testing.T) {
	svc := newTestService()
	lots := seedExample(t, svc)

	sale, err := svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker: "tick", SaleDate: date(2024, 6, 1), Shares: 40, Price: decimal.NewFromInt(170),
	})
	require.NoError(t, err)

	require.Len(t, sale.Assignments, 1)
	assert.Equal(t, lots[0].ID, sale.Assignments[0].LotID)
	assert.Equal(t, "TICK", sale.Ticker)

	// A second sale continues where the first stopped.
	sale, err = svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker: "TICK", SaleDate: date(2024, 6, 2), Shares: 70, Price: decimal.NewFromInt(170),
	})
	require.NoError(t, err)
	require.Len(t, sale.Assignments, 2)
	assert.Equal(t, lots[0].ID, sale.Assignments[0].LotID)
	assert.InDelta(t, 60, sale.Assignments[0].SharesAssigned, Epsilon)
	assert.Equal(t, lots[1].ID, sale.Assignments[1].LotID)
	assert.InDelta(t, 10, sale.Assignments[1].SharesAssigned, Epsilon)
}

func TestCreateSale_SameDateLotsUseInsertionOrder(t *testing.T) {
	svc := newTestService()
	// Inserted out of date order; the two 2024-02-01 lots tie on date.
	late := mustAddLot(t, svc, "ABC", date(2024, 3, 1), 10, "30")
	tieA := mustAddLot(t, svc, "ABC", date(2024, 2, 1), 10, "10")
	tieB := mustAddLot(t, svc, "ABC", date(2024, 2, 1), 10, "20")

	sale, err := svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker: "ABC", SaleDate: date(2024, 4, 1), Shares: 25, Price: decimal.NewFromInt(40),
	})
	require.NoError(t, err)

	require.Len(t, sale.Assignments, 3)
	assert.Equal(t, []uint{tieA.ID, tieB.ID, late.ID}, []uint{
		sale.Assignments[0].LotID, sale.Assignments[1].LotID, sale.Assignments[2].LotID,
	})
	assert.InDelta(t, 5, sale.Assignments[2].SharesAssigned, Epsilon)
}

func TestCreateSale_InsufficientSharesLeavesLedgerUnchanged(t *testing.T) {
	inv := &recordingInvalidator{}
	svc := newTestService(WithInvalidator(inv))
	seedExample(t, svc)
	inv.tickers = nil
	before := remainingByLot(t, svc)

	_, err := svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker: "TICK", SaleDate: date(2024, 6, 1), Shares: 1000, Price: decimal.NewFromInt(170),
	})

	var insufficient *InsufficientSharesError
	require.True(t, errors.As(err, &insufficient))
	assert.InDelta(t, 225, insufficient.Available, Epsilon)
	assert.InDelta(t, 1000, insufficient.Requested, Epsilon)

	sales, err := svc.ListSales(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Equal(t, before, remainingByLot(t, svc))
	assert.Empty(t, inv.tickers)
}

func TestCreateSale_NoLotsIsInsufficient(t *testing.T) {
	svc := newTestService()
	_, err := svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker: "NONE", SaleDate: date(2024, 6, 1), Shares: 1, Price: decimal.NewFromInt(1),
	})
	var insufficient *InsufficientSharesError
	require.True(t, errors.As(err, &insufficient))
	assert.Zero(t, insufficient.Available)
}

func TestCreateSale_WithinToleranceSellsEverything(t *testing.T) {
	svc := newTestService()
	mustAddLot(t, svc, "FRAC", date(2024, 1, 2), 1.33335, "10")

	sale, err := svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker: "FRAC", SaleDate: date(2024, 2, 1), Shares: 1.3334, Price: decimal.NewFromInt(12),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.3334, sale.SharesAssigned(), Epsilon)
}

func TestCreateSale_Validation(t *testing.T) {
	svc := newTestService()
	seedExample(t, svc)

	tests := []struct {
		name  string
		req   SaleRequest
		field string
	}{
		{"missing ticker", SaleRequest{SaleDate: date(2024, 6, 1), Shares: 1, Price: decimal.NewFromInt(1)}, "ticker"},
		{"long ticker", SaleRequest{Ticker: "ABCDEFGHIJK", SaleDate: date(2024, 6, 1), Shares: 1, Price: decimal.NewFromInt(1)}, "ticker"},
		{"missing date", SaleRequest{Ticker: "TICK", Shares: 1, Price: decimal.NewFromInt(1)}, "sale_date"},
		{"zero shares", SaleRequest{Ticker: "TICK", SaleDate: date(2024, 6, 1), Price: decimal.NewFromInt(1)}, "shares"},
		{"negative shares", SaleRequest{Ticker: "TICK", SaleDate: date(2024, 6, 1), Shares: -5, Price: decimal.NewFromInt(1)}, "shares"},
		{"zero price", SaleRequest{Ticker: "TICK", SaleDate: date(2024, 6, 1), Shares: 1}, "price"},
		{"negative price", SaleRequest{Ticker: "TICK", SaleDate: date(2024, 6, 1), Shares: 1, Price: decimal.NewFromInt(-3)}, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSale(context.Background(), testOwner, tt.req)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	sales, err := svc.ListSales(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCreateSale_UnplaceableSharesRollBack(t *testing.T) {
	svc := newTestService()
	// Each lot holds less than the tolerance, so the availability check
	// passes while the walk skips every lot.
	seedDust(t, svc, 4)

	preview, err := svc.PreviewFIFO(context.Background(), testOwner, "DUST", 0.0002)
	require.NoError(t, err)
	assert.False(t, preview.IsSufficient)
	assert.Empty(t, preview.Assignments)
	assert.InDelta(t, 0.0002, preview.Shortfall, 1e-9)
	assert.Nil(t, preview.SharesRemainingAfter)

	_, err = svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker: "DUST", SaleDate: date(2024, 2, 1), Shares: 0.0002, Price: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, ErrInternalConsistency)

	sales, err := svc.ListSales(context.Background(), testOwner)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCreateSale_ConcurrentSellersNeverOversell(t *testing.T) {
	svc := newTestService()
	seedExample(t, svc)

	const sellers = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(context.Background(), testOwner, SaleRequest{
				Ticker: "TICK", SaleDate: date(2024, 6, 1), Shares: 30, Price: decimal.NewFromInt(170),
			})
			mu.Lock()
			defer mu.Unlock()
			var ierr *InsufficientSharesError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &ierr):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, succeeded)
	assert.Equal(t, 3, insufficient)

	var left float64
	for _, rem := range remainingByLot(t, svc) {
		assert.GreaterOrEqual(t, rem, -Epsilon)
		left += rem
	}
	assert.InDelta(t, 15, left, Epsilon)
}

func TestCreateSale_InvalidatesTicker(t *testing.T) {
	inv := &recordingInvalidator{}
	svc := newTestService(WithInvalidator(inv))
	seedExample(t, svc)

	_, err := svc.CreateSale(context.Background(), testOwner, SaleRequest{
		Ticker: "TICK", SaleDate: date(2024, 6, 1), Shares: 1, Price: decimal.NewFromInt(170),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"TICK", "TICK", "TICK", "TICK"}, inv.tickers)
}

func TestCreateSale_OwnersAreIsolated(t *testing.T) {
	svc := newTestService()
	seedExample(t, svc)

	_, err := svc.CreateSale(context.Background(), testOwner+1, SaleRequest{
		Ticker: "TICK", SaleDate: date(2024, 6, 1), Shares: 1, Price: decimal.NewFromInt(170),
	})
	var insufficient *InsufficientSharesError
	assert.True(t, errors.As(err, &insufficient))
}

func TestPreviewFIFO_IsIdempotent(t *testing.T) {
	svc := newTestService()
	lots := seedExample(t, svc)
	before := remainingByLot(t, svc)

	first, err := svc.PreviewFIFO(context.Background(), testOwner, "TICK", 120)
	require.NoError(t, err)
	second, err := svc.PreviewFIFO(context.Background(), testOwner, "TICK", 120)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, remainingByLot(t, svc))

	assert.True(t, first.IsSufficient)
	assert.InDelta(t, 225, first.TotalAvailable, Epsilon)
	assertDecimal(t, "18200", first.TotalCostBasis)
	require.Len(t, first.Assignments, 2)
	assert.Equal(t, lots[0].ID, first.Assignments[0].LotID)
	assert.InDelta(t, 100, first.Assignments[0].SharesAvailable, Epsilon)
	assert.InDelta(t, 20, first.Assignments[1].SharesToAssign, Epsilon)
	require.NotNil(t, first.SharesRemainingAfter)
	assert.InDelta(t, 105, *first.SharesRemainingAfter, Epsilon)
	assert.Zero(t, first.Shortfall)
}

func TestPreviewFIFO_ReportsShortfall(t *testing.T) {
	svc := newTestService()
	seedExample(t, svc)

	preview, err := svc.PreviewFIFO(context.Background(), testOwner, "TICK", 1000)
	require.NoError(t, err)

	assert.False(t, preview.IsSufficient)
	assert.InDelta(t, 775, preview.Shortfall, Epsilon)
	assert.Nil(t, preview.SharesRemainingAfter)
	assert.Len(t, preview.Assignments, 3)
}

func TestPreviewFIFO_NoLots(t *testing.T) {
	svc := newTestService()

	preview, err := svc.PreviewFIFO(context.Background(), testOwner, "TICK", 5)
	require.NoError(t, err)
	assert.False(t, preview.IsSufficient)
	assert.Empty(t, preview.Assignments)
	assert.InDelta(t, 5, preview.Shortfall, Epsilon)
}

func TestPreviewFIFO_RejectsNonPositiveShares(t *testing.T) {
	svc := newTestService()
	_, err := svc.PreviewFIFO(context.Background(), testOwner, "TICK", 0)
	assert.True(t, IsValidation(err))
}

// seedDust stores lots below the share tolerance directly, as AddLot
// refuses them.
func seedDust(t *testing.T, svc *Service, n int) {
	t.Helper()
	lots := make([]*models.Lot, n)
	for i := range lots {
		lots[i] = &models.Lot{
			OwnerID:         testOwner,
			Ticker:          "DUST",
			PurchaseDate:    date(2024, 1, 2+i),
			SharesBought:    0.00005,
			PriceAtPurchase: decimal.NewFromInt(1),
			Amount:          decimal.RequireFromString("0.00005"),
			Source:          models.SourceImport,
		}
	}
	require.NoError(t, svc.store.Atomic(context.Background(), func(tx Tx) error {
		return tx.CreateLots(lots)
	}))
}
