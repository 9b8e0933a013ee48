package order

import (
	"fmt"
	"math"
)

const (
	// DefaultExtraSurcharge is the fixed price of one extra topping.
	DefaultExtraSurcharge Money = 50
	// MaxQuantity is the largest quantity accepted for a single cart entry.
	MaxQuantity = 1000
)

// CatalogSnapshot maps dish ids to their current catalog price. A missing key means the
// dish does not exist.
type CatalogSnapshot map[DishID]Money

// PricedCart is the output of the pricing engine.
type PricedCart struct {
	Items []OrderItem
	Total Money
}

// PricingEngine turns a cart into priced line items. It does no I/O.
type PricingEngine struct {
	extraSurcharge Money
}

func NewPricingEngine(extraSurcharge Money) *PricingEngine {
	return &PricingEngine{extraSurcharge: extraSurcharge}
}

// Price computes line items and the order total for cart against snapshot.
func (p *PricingEngine) Price(cart []CartItem, snapshot CatalogSnapshot) (PricedCart, error) {
	if len(cart) == 0 {
		return PricedCart{}, ErrEmptyCart
	}

	items := make([]OrderItem, 0, len(cart))
	var total Money

	for i, entry := range cart {
		if entry.Quantity < 1 || entry.Quantity > MaxQuantity {
			return PricedCart{}, fmt.Errorf("%w: item %d (dish %s) has quantity %d, allowed 1..%d", ErrInvalidQuantity, i, entry.DishID, entry.Quantity, MaxQuantity)
		}

		basePrice, ok := snapshot[entry.DishID]
		if !ok {
			return PricedCart{}, fmt.Errorf("%w: dish with id %s not found", ErrDishNotFound, entry.DishID)
		}

		extras := distinct(entry.Extras)
		surcharge, ok := checkedMul(p.extraSurcharge, len(extras))
		if !ok {
			return PricedCart{}, fmt.Errorf("%w: item %d (dish %s) extras surcharge overflows", ErrValidation, i, entry.DishID)
		}
		unitPrice, ok := checkedAdd(basePrice, surcharge)
		if !ok {
			return PricedCart{}, fmt.Errorf("%w: item %d (dish %s) unit price overflows", ErrValidation, i, entry.DishID)
		}
		lineTotal, ok := checkedMul(unitPrice, entry.Quantity)
		if !ok {
			return PricedCart{}, fmt.Errorf("%w: item %d (dish %s) line total overflows", ErrValidation, i, entry.DishID)
		}
		if total, ok = checkedAdd(total, lineTotal); !ok {
			return PricedCart{}, fmt.Errorf("%w: order total overflows", ErrValidation)
		}

		items = append(items, OrderItem{
			Position:   i,
			DishID:     entry.DishID,
			Quantity:   entry.Quantity,
			BasePrice:  basePrice,
			UnitPrice:  unitPrice,
			Extras:     extras,
			Exclusions: distinct(entry.Exclusions),
		})
	}

	return PricedCart{Items: items, Total: total}, nil
}

// checkedMul multiplies two non-negative amounts, reporting false on overflow.
func checkedMul(m Money, qty int) (Money, bool) {
	if m < 0 || qty < 0 {
		return 0, false
	}
	if qty != 0 && int64(m) > math.MaxInt64/int64(qty) {
		return 0, false
	}
	return m.Mul(qty), true
}

func checkedAdd(a, b Money) (Money, bool) {
	if a < 0 || b < 0 || int64(a) > math.MaxInt64-int64(b) {
		return 0, false
	}
	return a + b, true
}

// DishIDs returns the distinct dish ids of cart in first-seen order.
func DishIDs(cart []CartItem) []DishID {
	seen := make(map[DishID]struct{}, len(cart))
	ids := make([]DishID, 0, len(cart))
	for _, item := range cart {
		if _, ok := seen[item.DishID]; ok {
			continue
		}
		seen[item.DishID] = struct{}{}
		ids = append(ids, item.DishID)
	}
	return ids
}

func distinct(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
