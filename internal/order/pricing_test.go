package order_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

func TestPricingEngine_Price_Scenario(t *testing.T) {
	engine := order.NewPricingEngine(order.DefaultExtraSurcharge)
	snapshot := order.CatalogSnapshot{"A": 1000, "B": 500}

	priced, err := engine.Price([]order.CartItem{
		{DishID: "A", Quantity: 2},
		{DishID: "B", Quantity: 1, Extras: []string{"cheese"}},
	}, snapshot)
	require.NoError(t, err)

	assert.Equal(t, order.Money(2550), priced.Total)
	assert.Equal(t, "25.50", priced.Total.String())

	want := []order.OrderItem{
		{Position: 0, DishID: "A", Quantity: 2, BasePrice: 1000, UnitPrice: 1000, Extras: []string{}, Exclusions: []string{}},
		{Position: 1, DishID: "B", Quantity: 1, BasePrice: 500, UnitPrice: 550, Extras: []string{"cheese"}, Exclusions: []string{}},
	}
	if diff := cmp.Diff(want, priced.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestPricingEngine_Price_Errors(t *testing.T) {
	engine := order.NewPricingEngine(order.DefaultExtraSurcharge)
	snapshot := order.CatalogSnapshot{"A": 1000}

	tests := []struct {
		name    string
		cart    []order.CartItem
		wantErr error
	}{
		{name: "empty_cart", cart: nil, wantErr: order.ErrEmptyCart},
		{name: "unknown_dish", cart: []order.CartItem{{DishID: "Z", Quantity: 1}}, wantErr: order.ErrDishNotFound},
		{name: "zero_quantity", cart: []order.CartItem{{DishID: "A", Quantity: 0}}, wantErr: order.ErrInvalidQuantity},
		{name: "negative_quantity", cart: []order.CartItem{{DishID: "A", Quantity: -3}}, wantErr: order.ErrInvalidQuantity},
		{name: "quantity_above_cap", cart: []order.CartItem{{DishID: "A", Quantity: order.MaxQuantity + 1}}, wantErr: order.ErrInvalidQuantity},
		{name: "huge_quantity", cart: []order.CartItem{{DishID: "A", Quantity: 18446744073709552}}, wantErr: order.ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priced, err := engine.Price(tt.cart, snapshot)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, order.IsValidation(err))
			assert.Empty(t, priced.Items)
		})
	}
}

func TestPricingEngine_Price_Overflow(t *testing.T) {
	tests := []struct {
		name     string
		snapshot order.CatalogSnapshot
		cart     []order.CartItem
	}{
		{
			name:     "line_total",
			snapshot: order.CatalogSnapshot{"A": math.MaxInt64 / 2},
			cart:     []order.CartItem{{DishID: "A", Quantity: 3}},
		},
		{
			name:     "order_total",
			snapshot: order.CatalogSnapshot{"A": math.MaxInt64/2 + 1},
			cart:     []order.CartItem{{DishID: "A", Quantity: 1}, {DishID: "A", Quantity: 1}},
		},
		{
			name:     "unit_price",
			snapshot: order.CatalogSnapshot{"A": math.MaxInt64},
			cart:     []order.CartItem{{DishID: "A", Quantity: 1, Extras: []string{"cheese"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priced, err := order.NewPricingEngine(order.DefaultExtraSurcharge).Price(tt.cart, tt.snapshot)
			require.ErrorIs(t, err, order.ErrValidation)
			assert.True(t, order.IsValidation(err))
			assert.Zero(t, priced.Total)
		})
	}

	priced, err := order.NewPricingEngine(order.DefaultExtraSurcharge).Price(
		[]order.CartItem{{DishID: "A", Quantity: order.MaxQuantity}},
		order.CatalogSnapshot{"A": 99999999999},
	)
	require.NoError(t, err)
	assert.Equal(t, order.Money(99999999999*order.MaxQuantity), priced.Total)
}

func TestPricingEngine_Price_ExtrasAndExclusions(t *testing.T) {
	engine := order.NewPricingEngine(75)

	priced, err := engine.Price([]order.CartItem{{
		DishID:     "pizza",
		Quantity:   3,
		Extras:     []string{"olives", "cheese", "olives"},
		Exclusions: []string{"onion", "onion"},
	}}, order.CatalogSnapshot{"pizza": 1200})
	require.NoError(t, err)

	require.Len(t, priced.Items, 1)
	item := priced.Items[0]
	assert.Equal(t, []string{"olives", "cheese"}, item.Extras)
	assert.Equal(t, []string{"onion"}, item.Exclusions)
	assert.Equal(t, order.Money(1350), item.UnitPrice)
	assert.Equal(t, order.Money(4050), priced.Total)
}

func TestPricingEngine_Price_TotalMatchesItems(t *testing.T) {
	engine := order.NewPricingEngine(order.DefaultExtraSurcharge)
	snapshot := order.CatalogSnapshot{"a": 199, "b": 1, "c": 4999}
	cart := []order.CartItem{
		{DishID: "a", Quantity: 7, Extras: []string{"x", "y"}},
		{DishID: "b", Quantity: 13},
		{DishID: "c", Quantity: 1, Extras: []string{"x"}},
		{DishID: "a", Quantity: 2},
	}

	priced, err := engine.Price(cart, snapshot)
	require.NoError(t, err)

	o := order.Order{Items: priced.Items, TotalPrice: priced.Total}
	assert.Equal(t, o.TotalPrice, o.ItemsTotal())

	again, err := engine.Price(cart, snapshot)
	require.NoError(t, err)
	assert.Equal(t, priced, again)
}

func TestDishIDs(t *testing.T) {
	ids := order.DishIDs([]order.CartItem{{DishID: "b"}, {DishID: "a"}, {DishID: "b"}})
	assert.Equal(t, []order.DishID{"b", "a"}, ids)
}

func TestParseMoney(t *testing.T) {
	m, err := order.ParseMoney("0.50")
	require.NoError(t, err)
	assert.Equal(t, order.Money(50), m)

	m, err = order.ParseMoney("12")
	require.NoError(t, err)
	assert.Equal(t, order.Money(1200), m)

	_, err = order.ParseMoney("0.505")
	assert.Error(t, err)

	_, err = order.ParseMoney("abc")
	assert.Error(t, err)
}
