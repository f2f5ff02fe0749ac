package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-tracker/models"
)

// MemoryStore keeps the ledger in process memory. Transactions are
// serialized by a single mutex and work on a copy of the state that is
// swapped in on success, so a failed transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

type memState struct {
	lotSeq        uint
	saleSeq       uint
	assignmentSeq uint
	lots          map[uint]models.Lot
	sales         map[uint]models.Sale
	assignments   map[uint]models.Assignment
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			lots:        make(map[uint]models.Lot),
			sales:       make(map[uint]models.Sale),
			assignments: make(map[uint]models.Assignment),
		},
		now: time.Now,
	}
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (st memState) clone() memState {
	out := memState{
		lotSeq:        st.lotSeq,
		saleSeq:       st.saleSeq,
		assignmentSeq: st.assignmentSeq,
		lots:          make(map[uint]models.Lot, len(st.lots)),
		sales:         make(map[uint]models.Sale, len(st.sales)),
		assignments:   make(map[uint]models.Assignment, len(st.assignments)),
	}
	for k, v := range st.lots {
		out.lots[k] = v
	}
	for k, v := range st.sales {
		out.sales[k] = v
	}
	for k, v := range st.assignments {
		out.assignments[k] = v
	}
	return out
}

type memTx struct {
	state memState
	now   func() time.Time
}

func (tx *memTx) soldByLot() map[uint]float64 {
	sold := make(map[uint]float64)
	for _, a := range tx.state.assignments {
		sold[a.LotID] += a.SharesAssigned
	}
	return sold
}

func (tx *memTx) lotsWhere(keep func(models.Lot) bool) []models.Lot {
	sold := tx.soldByLot()
	var out []models.Lot
	for _, l := range tx.state.lots {
		if keep(l) {
			l.SharesSold = sold[l.ID]
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.Before(out[j].PurchaseDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (tx *memTx) LockLots(owner uint, ticker string) ([]models.Lot, error) {
	return tx.TickerLots(owner, ticker)
}

func (tx *memTx) TickerLots(owner uint, ticker string) ([]models.Lot, error) {
	return tx.lotsWhere(func(l models.Lot) bool {
		return l.OwnerID == owner && l.Ticker == ticker
	}), nil
}

func (tx *memTx) Lots(owner uint) ([]models.Lot, error) {
	return tx.lotsWhere(func(l models.Lot) bool { return l.OwnerID == owner }), nil
}

func (tx *memTx) Lot(owner, id uint) (*models.Lot, error) {
	l, ok := tx.state.lots[id]
	if !ok || l.OwnerID != owner {
		return nil, ErrNotFound
	}
	l.SharesSold = tx.soldByLot()[id]
	return &l, nil
}

func (tx *memTx) withAssignments(s models.Sale) models.Sale {
	s.Assignments = nil
	for _, a := range tx.state.assignments {
		if a.SaleID == s.ID {
			s.Assignments = append(s.Assignments, a)
		}
	}
	sort.Slice(s.Assignments, func(i, j int) bool { return s.Assignments[i].ID < s.Assignments[j].ID })
	return s
}

func (tx *memTx) Sales(owner uint) ([]models.Sale, error) {
	var out []models.Sale
	for _, s := range tx.state.sales {
		if s.OwnerID == owner {
			out = append(out, tx.withAssignments(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SaleDate.Equal(out[j].SaleDate) {
			return out[i].SaleDate.Before(out[j].SaleDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *memTx) Sale(owner, id uint) (*models.Sale, error) {
	s, ok := tx.state.sales[id]
	if !ok || s.OwnerID != owner {
		return nil, ErrNotFound
	}
	s = tx.withAssignments(s)
	return &s, nil
}

func (tx *memTx) CreateLots(lots []*models.Lot) error {
	for _, l := range lots {
		tx.state.lotSeq++
		l.ID = tx.state.lotSeq
		if l.CreatedAt.IsZero() {
			l.CreatedAt = tx.now()
		}
		stored := *l
		stored.SharesSold = 0
		tx.state.lots[l.ID] = stored
	}
	return nil
}

func (tx *memTx) CreateSale(sale *models.Sale) error {
	tx.state.saleSeq++
	sale.ID = tx.state.saleSeq
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = tx.now()
	}
	for i := range sale.Assignments {
		tx.state.assignmentSeq++
		sale.Assignments[i].ID = tx.state.assignmentSeq
		sale.Assignments[i].SaleID = sale.ID
		tx.state.assignments[sale.Assignments[i].ID] = sale.Assignments[i]
	}
	stored := *sale
	stored.Assignments = nil
	tx.state.sales[sale.ID] = stored
	return nil
}

func (tx *memTx) SaveReinvestment(sale *models.Sale) error {
	stored, ok := tx.state.sales[sale.ID]
	if !ok {
		return ErrNotFound
	}
	stored.ReinvestmentLotID = nil
	if sale.ReinvestmentLotID != nil {
		id := *sale.ReinvestmentLotID
		stored.ReinvestmentLotID = &id
	}
	stored.ReinvestedAmount = sale.ReinvestedAmount
	stored.CashRetained = sale.CashRetained
	tx.state.sales[sale.ID] = stored
	return nil
}

func (tx *memTx) CountAssignments(lotID uint) (int64, error) {
	var n int64
	for _, a := range tx.state.assignments {
		if a.LotID == lotID {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) DeleteLot(id uint) error {
	if _, ok := tx.state.lots[id]; !ok {
		return ErrNotFound
	}
	delete(tx.state.lots, id)
	for aid, a := range tx.state.assignments {
		if a.LotID == id {
			delete(tx.state.assignments, aid)
		}
	}
	for sid, s := range tx.state.sales {
		if s.ReinvestmentLotID != nil && *s.ReinvestmentLotID == id {
			s.ReinvestmentLotID = nil
			s.ReinvestedAmount = decimal.NullDecimal{}
			s.CashRetained = decimal.NullDecimal{}
			tx.state.sales[sid] = s
		}
	}
	return nil
}

func (tx *memTx) DeleteSale(id uint) error {
	if _, ok := tx.state.sales[id]; !ok {
		return ErrNotFound
	}
	delete(tx.state.sales, id)
	for aid, a := range tx.state.assignments {
		if a.SaleID == id {
			delete(tx.state.assignments, aid)
		}
	}
	return nil
}
