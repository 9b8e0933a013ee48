package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ListQuery narrows Repository.ListOrders. Nil fields are not filtered on.
type ListQuery struct {
	OwnerID     *string
	Status      *OrderStatus
	CreatedFrom *time.Time
}

// StatusUpdate is a compare-and-swap of an order status.
type StatusUpdate struct {
	Expected OrderStatus
	Next     OrderStatus
	// SetNote replaces status_note with Note (nil clears it). Otherwise the note is untouched.
	SetNote bool
	Note    *string
	At      time.Time
}

// PurgeQuery selects orders for the retention sweep.
type PurgeQuery struct {
	CreatedBefore time.Time
	TerminalOnly  bool
	// Limit caps the number of orders removed in one call; zero means no cap.
	Limit int
}

type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, q ListQuery) ([]Order, error)
	// UpdateOrderStatus applies u only if the stored status still equals u.Expected. It returns
	// ErrConflict when the status moved on or the order has disappeared.
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, u StatusUpdate) error
	PurgeOrders(ctx context.Context, q PurgeQuery) (int64, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// withTx runs fn inside a transaction. The transaction is committed when fn returns nil and
// rolled back on error or panic.
func withTx(ctx context.Context, db *pgxpool.Pool, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return storageError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("repository: panic recovered inside transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = storageError("commit transaction", commitErr)
		}
	}()

	return fn(tx)
}

func (r *postgresRepository) CreateOrder(ctx context.Context, order *Order) error {
	if order.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		order.ID = id
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt

	return withTx(ctx, r.db, func(tx pgx.Tx) error {
		queryOrder := `
			INSERT INTO order_service.orders
				(id, owner_id, status, total_price, delivery_address, payment_method, notes, status_note, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		_, err := tx.Exec(ctx, queryOrder,
			order.ID,
			order.OwnerID,
			string(order.Status),
			int64(order.TotalPrice),
			order.DeliveryAddress,
			order.PaymentMethod,
			order.Notes,
			order.StatusNote,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			return storageError("insert order", err)
		}

		queryItem := `
			INSERT INTO order_service.order_items
				(id, order_id, position, dish_id, quantity, base_price, unit_price, extras, exclusions, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		for i := range order.Items {
			item := &order.Items[i]

			itemID, genErr := uuid.NewV4()
			if genErr != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			}
			item.ID = itemID
			item.OrderID = order.ID
			item.Position = i
			item.CreatedAt = order.CreatedAt

			_, err = tx.Exec(ctx, queryItem,
				item.ID,
				item.OrderID,
				item.Position,
				string(item.DishID),
				item.Quantity,
				int64(item.BasePrice),
				int64(item.UnitPrice),
				nonNil(item.Extras),
				nonNil(item.Exclusions),
				item.CreatedAt,
			)
			if err != nil {
				return storageError(fmt.Sprintf("insert order item for order %s", order.ID), err)
			}
		}
		return nil
	})
}

const selectOrderColumns = `
	SELECT id, owner_id, status, total_price, delivery_address, payment_method, notes, status_note, created_at, updated_at
	FROM order_service.orders
`

const selectItemColumns = `
	SELECT id, order_id, position, dish_id, quantity, base_price, unit_price, extras, exclusions, created_at
	FROM order_service.order_items
`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OwnerID,
		&o.Status,
		(*int64)(&o.TotalPrice),
		&o.DeliveryAddress,
		&o.PaymentMethod,
		&o.Notes,
		&o.StatusNote,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

func scanItem(row pgx.Row) (OrderItem, error) {
	var item OrderItem
	err := row.Scan(
		&item.ID,
		&item.OrderID,
		&item.Position,
		&item.DishID,
		&item.Quantity,
		(*int64)(&item.BasePrice),
		(*int64)(&item.UnitPrice),
		&item.Extras,
		&item.Exclusions,
		&item.CreatedAt,
	)
	return item, err
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, selectOrderColumns+` WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, storageError(fmt.Sprintf("select order by id %s", orderID), err)
	}

	rows, err := r.db.Query(ctx, selectItemColumns+` WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, storageError(fmt.Sprintf("query order items for order id %s", orderID), err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storageError(fmt.Sprintf("scan order item for order id %s", orderID), err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, storageError(fmt.Sprintf("iterate order items for order id %s", orderID), err)
	}

	order.Items = items
	return &order, nil
}

func (r *postgresRepository) ListOrders(ctx context.Context, q ListQuery) ([]Order, error) {
	query := selectOrderColumns + `
		WHERE ($1::text IS NULL OR owner_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC
	`
	var status *string
	if q.Status != nil {
		s := string(*q.Status)
		status = &s
	}

	orderRows, err := r.db.Query(ctx, query, q.OwnerID, status, q.CreatedFrom)
	if err != nil {
		return nil, storageError("query orders", err)
	}
	defer orderRows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for orderRows.Next() {
		order, err := scanOrder(orderRows)
		if err != nil {
			return nil, storageError("scan order", err)
		}
		order.Items = make([]OrderItem, 0)
		ordersMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}
	if err = orderRows.Err(); err != nil {
		return nil, storageError("iterate orders", err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	itemRows, err := r.db.Query(ctx, selectItemColumns+` WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, storageError("query order items", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, storageError("scan order item", err)
		}
		if order, ok := ordersMap[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	if err = itemRows.Err(); err != nil {
		return nil, storageError("iterate order items", err)
	}

	resultOrders := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		if order, ok := ordersMap[id]; ok {
			resultOrders = append(resultOrders, *order)
		}
	}
	return resultOrders, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, u StatusUpdate) error {
	query := `
		UPDATE order_service.orders
		SET status = $1,
		    status_note = CASE WHEN $2::boolean THEN $3::text ELSE status_note END,
		    updated_at = $4
		WHERE id = $5 AND status = $6
	`

	cmdTag, err := r.db.Exec(ctx, query,
		string(u.Next),
		u.SetNote,
		u.Note,
		u.At,
		orderID,
		string(u.Expected),
	)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", u.Next).Msg("repository: failed to update order status")
		return storageError(fmt.Sprintf("update order status %s", orderID), err)
	}

	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("order_id", orderID).Stringer("expected_status", u.Expected).Msg("repository: order status changed or order removed before update")
		return ErrConflict
	}

	return nil
}

func (r *postgresRepository) PurgeOrders(ctx context.Context, q PurgeQuery) (int64, error) {
	var purged int64

	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		selectQuery := `
			SELECT id FROM order_service.orders
			WHERE created_at < $1
			  AND (NOT $2::boolean OR status IN ('DELIVERED', 'CANCELLED'))
			ORDER BY created_at
		`
		args := []any{q.CreatedBefore, q.TerminalOnly}
		if q.Limit > 0 {
			selectQuery += ` LIMIT $3`
			args = append(args, q.Limit)
		}
		selectQuery += ` FOR UPDATE`

		rows, err := tx.Query(ctx, selectQuery, args...)
		if err != nil {
			return storageError("select expired orders", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return storageError("collect expired order ids", err)
		}
		if len(ids) == 0 {
			return nil
		}

		// Eligibility is checked again at delete time, for items and orders alike, so an order
		// that stopped matching between selection and delete keeps both its row and its items.
		eligible := `
			SELECT id FROM order_service.orders
			WHERE id = ANY($1)
			  AND created_at < $2
			  AND (NOT $3::boolean OR status IN ('DELIVERED', 'CANCELLED'))
		`
		if _, err := tx.Exec(ctx, `DELETE FROM order_service.order_items WHERE order_id IN (`+eligible+`)`, ids, q.CreatedBefore, q.TerminalOnly); err != nil {
			return storageError("delete expired order items", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM order_service.orders WHERE id IN (`+eligible+`)`, ids, q.CreatedBefore, q.TerminalOnly)
		if err != nil {
			return storageError("delete expired orders", err)
		}
		purged = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return purged, nil
}

// storageError classifies a driver error. Serialization failures, deadlocks and duplicate
// keys are reported as conflicts; everything else is a storage failure.
func storageError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.UniqueViolation, pgerrcode.LockNotAvailable:
			return fmt.Errorf("%w: repository: %s: %v", ErrConflict, op, err)
		}
	}
	return &StorageError{Op: op, Err: err}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
