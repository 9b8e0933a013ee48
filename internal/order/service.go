package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// ReorderWindow is how far back a customer may reorder.
	ReorderWindow = 30 * 24 * time.Hour
	// HistoryWindow bounds the order history shown to customers.
	HistoryWindow = 30 * 24 * time.Hour

	AuditActionUpdateStatus = "UPDATE_ORDER_STATUS"
	AuditActionCancel       = "CANCEL_ORDER"

	auditTimeout = 3 * time.Second
)

// Catalog returns authoritative prices for a batch of dishes.
type Catalog interface {
	Snapshot(ctx context.Context, ids []DishID) (CatalogSnapshot, error)
}

// AuditSink records actions on orders. It is best-effort: errors are logged, never returned.
type AuditSink interface {
	Record(ctx context.Context, actorID, action, details string) error
}

// Metrics receives lifecycle counters.
type Metrics interface {
	OrderCreated()
	StatusChanged(from, to OrderStatus)
	TransitionRejected(reason string)
	OrdersPurged(n int64)
	SweepFailed()
}

type CreateOrderInput struct {
	Items           []CartItem
	DeliveryAddress string
	PaymentMethod   string
	Notes           string
}

type Service interface {
	CreateOrder(ctx context.Context, actor Actor, input CreateOrderInput) (*Order, error)
	GetOrder(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, actor Actor, filter ListFilter) ([]Order, error)
	TransitionOrder(ctx context.Context, actor Actor, id uuid.UUID, target OrderStatus, note *string) (*Order, error)
	CancelOrder(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error)
	Reorder(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error)
}

// ServiceDeps bundles the collaborators of the order service. Repository, Catalog and Pricing
// are required.
type ServiceDeps struct {
	Repository Repository
	Catalog    Catalog
	Pricing    *PricingEngine
	Audit      AuditSink
	Metrics    Metrics
	Clock      func() time.Time
}

type service struct {
	orderRepo Repository
	catalog   Catalog
	pricing   *PricingEngine
	audit     AuditSink
	metrics   Metrics
	clock     func() time.Time
}

func NewService(deps ServiceDeps) (Service, error) {
	if deps.Repository == nil {
		return nil, errors.New("order service: repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &service{
		orderRepo: deps.Repository,
		catalog:   deps.Catalog,
		pricing:   deps.Pricing,
		audit:     deps.Audit,
		metrics:   metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, actor Actor, input CreateOrderInput) (*Order, error) {
	if actor.Role != RoleCustomer {
		return nil, fmt.Errorf("%w: only customers can place orders", ErrForbidden)
	}
	return s.placeOrder(ctx, actor.ID, input)
}

// placeOrder prices the cart against a fresh catalog snapshot and stores the order with its
// items in one transaction.
func (s *service) placeOrder(ctx context.Context, ownerID string, input CreateOrderInput) (*Order, error) {
	address := strings.TrimSpace(input.DeliveryAddress)
	if address == "" {
		return nil, fmt.Errorf("%w: delivery address is required", ErrValidation)
	}
	payment := strings.TrimSpace(input.PaymentMethod)
	if payment == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrValidation)
	}
	if len(input.Items) == 0 {
		log.Warn().Str("owner_id", ownerID).Msg("service: attempt to create order with no items")
		return nil, ErrEmptyCart
	}

	snapshot, err := s.catalog.Snapshot(ctx, DishIDs(input.Items))
	if err != nil {
		log.Error().Err(err).Msg("service: failed to load catalog snapshot")
		return nil, fmt.Errorf("service: failed to load catalog prices: %w", err)
	}

	priced, err := s.pricing.Price(input.Items, snapshot)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID).Msg("service: cart rejected by pricing")
		return nil, err
	}

	order := &Order{
		OwnerID:         ownerID,
		Status:          StatusPending,
		TotalPrice:      priced.Total,
		DeliveryAddress: address,
		PaymentMethod:   payment,
		Notes:           strings.TrimSpace(input.Notes),
		Items:           priced.Items,
		CreatedAt:       s.clock(),
	}

	if err := s.orderRepo.CreateOrder(ctx, order); err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	s.metrics.OrderCreated()
	log.Info().Stringer("order_id", order.ID).Str("owner_id", ownerID).Stringer("total_price", order.TotalPrice).Msg("service: order created successfully")

	return order, nil
}

func (s *service) GetOrder(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error) {
	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role.IsStaff() {
		return order, nil
	}
	if actor.Role != RoleCustomer || order.OwnerID != actor.ID {
		log.Warn().Stringer("order_id", id).Str("actor_id", actor.ID).Msg("service: order read denied")
		return nil, fmt.Errorf("%w: order %s", ErrForbidden, id)
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, actor Actor, filter ListFilter) ([]Order, error) {
	q := ListQuery{Status: filter.Status}
	now := s.clock()

	switch {
	case actor.Role == RoleCustomer:
		owner := actor.ID
		from := now.Add(-HistoryWindow)
		q.OwnerID = &owner
		q.CreatedFrom = &from
	case actor.Role.IsStaff():
		from, err := timeframeStart(filter.Timeframe, now)
		if err != nil {
			return nil, err
		}
		q.CreatedFrom = from
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}

	orders, err := s.orderRepo.ListOrders(ctx, q)
	if err != nil {
		log.Error().Err(err).Str("actor_id", actor.ID).Msg("service: failed to list orders in repository")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *service) CancelOrder(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error) {
	return s.TransitionOrder(ctx, actor, id, StatusCancelled, nil)
}

func (s *service) TransitionOrder(ctx context.Context, actor Actor, orderID uuid.UUID, target OrderStatus, note *string) (*Order, error) {
	if _, ok := allowedTransitions[target]; !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}

	current, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := authorizeTransition(actor, current, target); err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Str("actor_id", actor.ID).Stringer("new_status", target).Msg("service: status change denied")
		s.metrics.TransitionRejected("forbidden")
		return nil, err
	}

	if err := validateTransition(current.Status, target); err != nil {
		log.Warn().
			Stringer("order_id", orderID).
			Stringer("current_status", current.Status).
			Stringer("new_status", target).
			Msg("service: invalid status transition attempt")
		s.metrics.TransitionRejected("invalid_transition")
		return nil, err
	}

	now := s.clock()
	update := StatusUpdate{Expected: current.Status, Next: target, At: now}
	if actor.Role.IsStaff() {
		update.SetNote = true
		update.Note = normalizeNote(note)
	}

	err = s.orderRepo.UpdateOrderStatus(ctx, orderID, update)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.TransitionRejected("conflict")
			return nil, s.explainLostUpdate(ctx, orderID, current.Status, target)
		}
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", target).Msg("service: failed to update order status in repository")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	previous := current.Status
	current.Status = target
	current.UpdatedAt = now
	if update.SetNote {
		current.StatusNote = update.Note
	}

	s.metrics.StatusChanged(previous, target)
	log.Info().Stringer("order_id", orderID).Stringer("old_status", previous).Stringer("new_status", target).Str("actor_id", actor.ID).Msg("service: order status updated successfully")

	action := AuditActionUpdateStatus
	if !actor.Role.IsStaff() {
		action = AuditActionCancel
	}
	s.recordAudit(ctx, actor, action, fmt.Sprintf("Updated order #%s status from %s to %s", orderID, previous, target))

	return current, nil
}

// explainLostUpdate re-reads an order whose compare-and-swap failed and reports why.
func (s *service) explainLostUpdate(ctx context.Context, orderID uuid.UUID, seen, target OrderStatus) error {
	fresh, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", orderID).Msg("service: order removed during status update")
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to reload order after conflict: %w", err)
	}

	if err := validateTransition(fresh.Status, target); err != nil {
		return err
	}

	log.Warn().Stringer("order_id", orderID).Stringer("seen_status", seen).Stringer("current_status", fresh.Status).Msg("service: concurrent status update detected")
	return fmt.Errorf("%w: order %s moved from %s to %s", ErrConflict, orderID, seen, fresh.Status)
}

func (s *service) Reorder(ctx context.Context, actor Actor, id uuid.UUID) (*Order, error) {
	if actor.Role != RoleCustomer {
		return nil, fmt.Errorf("%w: only customers can reorder", ErrForbidden)
	}

	original, err := s.GetOrder(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if s.clock().Sub(original.CreatedAt) > ReorderWindow {
		log.Warn().Stringer("order_id", id).Time("created_at", original.CreatedAt).Msg("service: reorder window expired")
		return nil, ErrExpiredForReorder
	}

	cart := make([]CartItem, 0, len(original.Items))
	for _, item := range original.Items {
		cart = append(cart, CartItem{
			DishID:     item.DishID,
			Quantity:   item.Quantity,
			Extras:     append([]string(nil), item.Extras...),
			Exclusions: append([]string(nil), item.Exclusions...),
		})
	}

	order, err := s.placeOrder(ctx, actor.ID, CreateOrderInput{
		Items:           cart,
		DeliveryAddress: original.DeliveryAddress,
		PaymentMethod:   original.PaymentMethod,
		Notes:           original.Notes,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Stringer("order_id", order.ID).Stringer("source_order_id", id).Msg("service: order reordered")
	return order, nil
}

func (s *service) loadOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return order, nil
}

func (s *service) recordAudit(ctx context.Context, actor Actor, action, details string) {
	if s.audit == nil {
		return
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	if err := s.audit.Record(auditCtx, actor.ID, action, details); err != nil {
		log.Warn().Err(err).Str("actor_id", actor.ID).Str("action", action).Msg("service: audit record failed")
	}
}

// timeframeStart returns the lower created_at bound for a staff timeframe filter.
func timeframeStart(timeframe string, now time.Time) (*time.Time, error) {
	var start time.Time
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch timeframe {
	case "":
		return nil, nil
	case "today":
		start = midnight
	case "week":
		start = midnight.AddDate(0, 0, -int(now.Weekday()))
	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return nil, fmt.Errorf("%w: unknown timeframe %q", ErrValidation, timeframe)
	}
	return &start, nil
}

func normalizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type nopMetrics struct{}

func (nopMetrics) OrderCreated()                      {}
func (nopMetrics) StatusChanged(from, to OrderStatus) {}
func (nopMetrics) TransitionRejected(reason string)   {}
func (nopMetrics) OrdersPurged(n int64)               {}
func (nopMetrics) SweepFailed()                       {}
