package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"portfolio-tracker/config"
	"portfolio-tracker/ledger"
	"portfolio-tracker/models"
)

// startPostgres runs a throwaway PostgreSQL container. Set
// PORTFOLIO_TEST_DOCKER=true to enable.
func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	if os.Getenv("PORTFOLIO_TEST_DOCKER") != "true" {
		t.Skip("set PORTFOLIO_TEST_DOCKER=true to run PostgreSQL tests")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "portfolio",
				"POSTGRES_PASSWORD": "portfolio",
				"POSTGRES_DB":       "portfolio",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=portfolio password=portfolio dbname=portfolio sslmode=disable TimeZone=UTC",
		host, port.Port())
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestPostgres_FIFOSaleAndDeletePolicy(t *testing.T) {
	db := startPostgres(t)
	svc := ledger.NewService(NewStore(db), config.NewSilentLogger())
	ctx := context.Background()

	for _, l := range []struct {
		day    int
		shares float64
		price  int64
	}{{15, 100, 150}, {20, 50, 160}} {
		_, err := svc.AddLot(ctx, 1, ledger.LotRequest{
			Ticker:       "TICK",
			PurchaseDate: time.Date(2024, 1, l.day, 0, 0, 0, 0, time.UTC),
			Shares:       l.shares,
			Price:        decimal.NewFromInt(l.price),
		})
		require.NoError(t, err)
	}

	sale, err := svc.CreateSale(ctx, 1, ledger.SaleRequest{
		Ticker: "TICK", SaleDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Shares: 120, Price: decimal.NewFromInt(170),
	})
	require.NoError(t, err)
	require.Len(t, sale.Assignments, 2)
	assert.True(t, sale.RealizedGainLoss().Equal(decimal.NewFromInt(2200)))

	lots, err := svc.ListLots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.InDelta(t, 0, lots[0].SharesRemaining(), 1e-9)
	assert.InDelta(t, 30, lots[1].SharesRemaining(), 1e-9)

	_, err = svc.CreateSale(ctx, 1, ledger.SaleRequest{
		Ticker: "TICK", SaleDate: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
		Shares: 31, Price: decimal.NewFromInt(170),
	})
	var short *ledger.InsufficientSharesError
	require.True(t, errors.As(err, &short))
	assert.InDelta(t, 30, short.Available, 1e-9)

	err = svc.DeleteLot(ctx, 1, lots[0].ID, false)
	var inUse *ledger.LotInUseError
	require.True(t, errors.As(err, &inUse))

	require.NoError(t, svc.DeleteSale(ctx, 1, sale.ID))
	require.NoError(t, svc.DeleteLot(ctx, 1, lots[0].ID, false))
	_, err = svc.GetLot(ctx, 1, lots[0].ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPostgres_ConcurrentSellersDoNotOversell(t *testing.T) {
	db := startPostgres(t)
	svc := ledger.NewService(NewStore(db), config.NewSilentLogger())
	ctx := context.Background()

	_, err := svc.AddLot(ctx, 1, ledger.LotRequest{
		Ticker: "TICK", PurchaseDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Shares: 100, Price: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, 1, ledger.SaleRequest{
				Ticker: "TICK", SaleDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
				Shares: 30, Price: decimal.NewFromInt(12),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	lots, err := svc.ListLots(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 10, lots[0].SharesRemaining(), 1e-9)
}

func TestPostgres_PriceStoreUpserts(t *testing.T) {
	db := startPostgres(t)
	store := NewPriceStore(db)
	ctx := context.Background()
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveCloses(ctx, "SPY", []models.PricePoint{{Date: d, Close: 470}}))
	require.NoError(t, store.SaveCloses(ctx, "SPY", []models.PricePoint{{Date: d, Close: 472.65}}))

	points, err := store.Closes(ctx, "SPY", d, d)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 472.65, points[0].Close, 1e-9)
}
