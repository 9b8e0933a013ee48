package catalog

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

type dishPrice struct {
	ID    string          `db:"id"`
	Price decimal.Decimal `db:"price"`
}

// Accessor reads current dish prices from the menu database.
type Accessor struct {
	db *sqlx.DB
}

// Connect opens the catalog database through lib/pq.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}
	log.Info().Msg("Connected to catalog database")
	return db, nil
}

func NewAccessor(db *sqlx.DB) *Accessor {
	return &Accessor{db: db}
}

// Snapshot returns the prices of the requested dishes in one query. Unknown ids are absent
// from the result.
func (a *Accessor) Snapshot(ctx context.Context, ids []order.DishID) (order.CatalogSnapshot, error) {
	snapshot := make(order.CatalogSnapshot, len(ids))
	if len(ids) == 0 {
		return snapshot, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	var rows []dishPrice
	err := a.db.SelectContext(ctx, &rows, `SELECT id, price FROM menu.dishes WHERE id = ANY($1)`, pq.Array(keys))
	if err != nil {
		log.Error().Err(err).Int("dishes", len(keys)).Msg("catalog: failed to load dish prices")
		return nil, &order.StorageError{Op: "catalog snapshot", Err: err}
	}

	return toSnapshot(snapshot, rows)
}

func toSnapshot(snapshot order.CatalogSnapshot, rows []dishPrice) (order.CatalogSnapshot, error) {
	for _, row := range rows {
		price, err := order.MoneyFromDecimal(row.Price)
		if err != nil {
			return nil, &order.StorageError{Op: "catalog snapshot", Err: fmt.Errorf("dish %s: %w", row.ID, err)}
		}
		snapshot[order.DishID(row.ID)] = price
	}
	return snapshot, nil
}
