// Package memory keeps every store in process. It backs the "memory"
// store driver and the package tests that need a real ledger.
package memory

import (
	"sync"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// DB holds all tables behind a single lock. Stores obtained from it share
// the same data, so a Reset through one view is visible through the others.
type DB struct {
	mu sync.RWMutex

	purchases []domain.PurchaseOperation
	sales     []domain.SaleOperation
	prices    map[string]float64
	reports   []domain.TaxReport
	audit     []domain.AuditEntry

	etoroOpen  []domain.EtoroOpenPosition
	etoroClose []domain.EtoroClosePosition

	coinbaseRaw    []domain.CoinbaseRawOperation
	coinbaseFiat   []domain.CoinbaseFiatMovement
	coinbaseCrypto []domain.CoinbaseCryptoMovement

	seq int64
}

// New creates an empty DB.
func New() *DB {
	return &DB{prices: make(map[string]float64)}
}

// nextID must be called with mu held for writing.
func (db *DB) nextID() int64 {
	db.seq++
	return db.seq
}

// dropExchange removes canonical operations tagged with exchange. mu must be
// held for writing.
func (db *DB) dropExchange(exchange string) {
	purchases := db.purchases[:0]
	for _, p := range db.purchases {
		if p.Exchange != exchange {
			purchases = append(purchases, p)
		}
	}
	db.purchases = purchases

	sales := db.sales[:0]
	for _, s := range db.sales {
		if s.Exchange != exchange {
			sales = append(sales, s)
		}
	}
	db.sales = sales
}

// appendPurchases assigns ids and appends. mu must be held for writing.
func (db *DB) appendPurchases(ops []domain.PurchaseOperation) {
	for _, op := range ops {
		op.ID = db.nextID()
		db.purchases = append(db.purchases, op)
	}
}

// appendSales assigns ids and appends. mu must be held for writing.
func (db *DB) appendSales(ops []domain.SaleOperation) {
	for _, op := range ops {
		op.ID = db.nextID()
		db.sales = append(db.sales, op)
	}
}

func (db *DB) Operations() *OperationStore { return &OperationStore{db: db} }
func (db *DB) Prices() *PriceStore { return &PriceStore{db: db} }
func (db *DB) Reports() *ReportStore { return &ReportStore{db: db} }
func (db *DB) Audit() *AuditStore { return &AuditStore{db: db} }
func (db *DB) Etoro() *EtoroStore { return &EtoroStore{db: db} }
func (db *DB) Coinbase() *CoinbaseStore { return &CoinbaseStore{db: db} }
