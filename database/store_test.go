package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"portfolio-tracker/ledger"
	"portfolio-tracker/models"
)

type sqlRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *sqlRecorder) Printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *sqlRecorder) all() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

// dryRunDB builds statements without a server.
func dryRunDB(t *testing.T) (*gorm.DB, *sqlRecorder) {
	t.Helper()
	rec := &sqlRecorder{}
	db, err := gorm.Open(postgres.Open("host=127.0.0.1 user=test dbname=test sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.New(rec, gormlogger.Config{LogLevel: gormlogger.Info, Colorful: false}),
	})
	require.NoError(t, err)
	return db, rec
}

func TestLockLots_SelectsForUpdateInFIFOOrder(t *testing.T) {
	db, rec := dryRunDB(t)
	tx := &gormTx{db: db}

	lots, err := tx.LockLots(3, "TICK")
	require.NoError(t, err)
	assert.Empty(t, lots)

	sql := rec.all()
	assert.Contains(t, sql, "FOR UPDATE")
	assert.Contains(t, sql, "ORDER BY purchase_date ASC,id ASC")
	assert.Contains(t, sql, "'TICK'")
}

func TestTickerLots_DoesNotLock(t *testing.T) {
	db, rec := dryRunDB(t)
	tx := &gormTx{db: db}

	_, err := tx.TickerLots(3, "TICK")
	require.NoError(t, err)
	assert.NotContains(t, rec.all(), "FOR UPDATE")
}

func TestDeleteLot_ClearsLinkageAndReportsMissingLot(t *testing.T) {
	db, rec := dryRunDB(t)
	tx := &gormTx{db: db}

	err := tx.DeleteLot(9)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	sql := rec.all()
	assert.Contains(t, sql, `DELETE FROM "assignments" WHERE lot_id = 9`)
	assert.Contains(t, sql, `"reinvestment_lot_id"=NULL`)
	assert.Contains(t, sql, `"cash_retained"=NULL`)
}

func TestCreateInBatches_RejectsBadInput(t *testing.T) {
	db, _ := dryRunDB(t)

	assert.ErrorIs(t, CreateInBatches(db, []models.Lot{{}}, 0), ErrInvalidBatchSize)
	assert.ErrorIs(t, CreateInBatches(db, models.Lot{}, 10), ErrInvalidData)
	assert.NoError(t, CreateInBatches(db, []models.Lot{}, 10))
}

func TestPriceStore_ClosesQueryBounds(t *testing.T) {
	db, rec := dryRunDB(t)
	store := NewPriceStore(db)

	_, err := store.Closes(context.Background(), "SPY",
		time.Date(2024, 1, 2, 13, 0, 0, 0, time.UTC), time.Time{})
	require.NoError(t, err)

	sql := rec.all()
	assert.Contains(t, sql, "date >= '2024-01-02 00:00:00'")
	assert.NotContains(t, sql, "date <=")
	assert.NoError(t, store.SaveCloses(context.Background(), "SPY", nil))
}
