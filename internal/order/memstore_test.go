package order_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

// memStore is an in-memory order.Repository with the same compare-and-swap semantics as
// the postgres one.
type memStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]order.Order
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[uuid.UUID]order.Order)}
}

func (s *memStore) put(o order.Order) order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV4())
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	s.orders[o.ID] = cloneOrder(o)
	return o
}

func (s *memStore) status(id uuid.UUID) (order.OrderStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o.Status, ok
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) CreateOrder(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = uuid.Must(uuid.NewV4())
	o.UpdatedAt = o.CreatedAt
	for i := range o.Items {
		o.Items[i].ID = uuid.Must(uuid.NewV4())
		o.Items[i].OrderID = o.ID
		o.Items[i].CreatedAt = o.CreatedAt
	}
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *memStore) GetOrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *memStore) ListOrders(_ context.Context, q order.ListQuery) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if q.OwnerID != nil && o.OwnerID != *q.OwnerID {
			continue
		}
		if q.Status != nil && o.Status != *q.Status {
			continue
		}
		if q.CreatedFrom != nil && o.CreatedAt.Before(*q.CreatedFrom) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateOrderStatus(_ context.Context, id uuid.UUID, u order.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != u.Expected {
		return order.ErrConflict
	}
	o.Status = u.Next
	o.UpdatedAt = u.At
	if u.SetNote {
		o.StatusNote = u.Note
	}
	s.orders[id] = o
	return nil
}

func (s *memStore) PurgeOrders(_ context.Context, q order.PurgeQuery) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var victims []order.Order
	for _, o := range s.orders {
		if !o.CreatedAt.Before(q.CreatedBefore) {
			continue
		}
		if q.TerminalOnly && !o.Status.IsTerminal() {
			continue
		}
		victims = append(victims, o)
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].CreatedAt.Before(victims[j].CreatedAt) })
	if q.Limit > 0 && len(victims) > q.Limit {
		victims = victims[:q.Limit]
	}
	for _, o := range victims {
		delete(s.orders, o.ID)
	}
	return int64(len(victims)), nil
}

func cloneOrder(o order.Order) order.Order {
	items := make([]order.OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.Extras = append([]string(nil), item.Extras...)
		item.Exclusions = append([]string(nil), item.Exclusions...)
		items[i] = item
	}
	o.Items = items
	if o.StatusNote != nil {
		note := *o.StatusNote
		o.StatusNote = &note
	}
	return o
}

// barrierRepo holds the first n reads of an order until all n have happened, so that n
// transitions observe the same status before any of them writes.
type barrierRepo struct {
	order.Repository
	mu      sync.Mutex
	pending int
	wg      sync.WaitGroup
}

func newBarrierRepo(repo order.Repository, n int) *barrierRepo {
	b := &barrierRepo{Repository: repo, pending: n}
	b.wg.Add(n)
	return b
}

func (b *barrierRepo) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := b.Repository.GetOrderByID(ctx, id)

	b.mu.Lock()
	hold := b.pending > 0
	if hold {
		b.pending--
	}
	b.mu.Unlock()

	if hold {
		b.wg.Done()
		b.wg.Wait()
	}
	return o, err
}

type staticCatalog struct {
	mu       sync.Mutex
	snapshot order.CatalogSnapshot
	err      error
	calls    int
}

func (c *staticCatalog) Snapshot(_ context.Context, ids []order.DishID) (order.CatalogSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make(order.CatalogSnapshot, len(ids))
	for _, id := range ids {
		if price, ok := c.snapshot[id]; ok {
			out[id] = price
		}
	}
	return out, nil
}

func (c *staticCatalog) setPrice(id order.DishID, price order.Money) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot[id] = price
}

func (c *staticCatalog) remove(id order.DishID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshot, id)
}

type auditRecord struct {
	ActorID string
	Action  string
	Details string
}

type recordingAudit struct {
	mu      sync.Mutex
	records []auditRecord
	err     error
}

func (a *recordingAudit) Record(_ context.Context, actorID, action, details string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, auditRecord{ActorID: actorID, Action: action, Details: details})
	return nil
}

func (a *recordingAudit) all() []auditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]auditRecord(nil), a.records...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
