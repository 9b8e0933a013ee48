package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type OrderStatus string

const (
	StatusPending          OrderStatus = "PENDING"
	StatusConfirmed        OrderStatus = "CONFIRMED"
	StatusPreparing        OrderStatus = "PREPARING"
	StatusReadyForDelivery OrderStatus = "READY_FOR_DELIVERY"
	StatusOutForDelivery   OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered        OrderStatus = "DELIVERED"
	StatusCancelled        OrderStatus = "CANCELLED"
)

func (os OrderStatus) String() string {
	return string(os)
}

// ParseStatus returns the status matching s exactly, or false for unknown values.
func ParseStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(s)
	if _, ok := allowedTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// DishID is an opaque catalog reference. Old orders may point at dishes that no longer exist.
type DishID string

type OrderItem struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	Position  int       `json:"position" db:"position"`
	DishID    DishID    `json:"dish_id" db:"dish_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	BasePrice Money     `json:"base_price" db:"base_price"`
	// UnitPrice is the per-item price at order time: catalog price plus extras surcharge.
	UnitPrice  Money     `json:"unit_price" db:"unit_price"`
	Extras     []string  `json:"extras" db:"extras"`
	Exclusions []string  `json:"exclusions" db:"exclusions"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// LineTotal is UnitPrice multiplied by Quantity.
func (i OrderItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

type Order struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	OwnerID         string      `json:"owner_id" db:"owner_id"`
	Status          OrderStatus `json:"status" db:"status"`
	TotalPrice      Money       `json:"total_price" db:"total_price"`
	DeliveryAddress string      `json:"delivery_address" db:"delivery_address"`
	PaymentMethod   string      `json:"payment_method" db:"payment_method"`
	Notes           string      `json:"notes,omitempty" db:"notes"`
	StatusNote      *string     `json:"status_note,omitempty" db:"status_note"`
	Items           []OrderItem `json:"items" db:"-"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// ItemsTotal re-derives the order total from the stored price snapshots.
func (o *Order) ItemsTotal() Money {
	var total Money
	for _, item := range o.Items {
		total += item.LineTotal()
	}
	return total
}

// CartItem is a single entry of a customer's cart as submitted by the client.
type CartItem struct {
	DishID     DishID
	Quantity   int
	Extras     []string
	Exclusions []string
}

// Role is the caller role resolved by the auth gate.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleStaffContent Role = "staff-content"
	RoleStaffSuper   Role = "staff-super"
)

// IsStaff reports whether the role belongs to restaurant staff.
func (r Role) IsStaff() bool {
	switch r {
	case RoleStaffContent, RoleStaffSuper:
		return true
	case RoleCustomer:
		return false
	default:
		return false
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaffContent, RoleStaffSuper:
		return true
	default:
		return false
	}
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

// ListFilter narrows ListOrders. Timeframe is one of "", "today", "week" or "month".
type ListFilter struct {
	Status    *OrderStatus
	Timeframe string
}
