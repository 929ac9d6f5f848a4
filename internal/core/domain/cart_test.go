package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwner_StorageKey(t *testing.T) {
	assert.Equal(t, "cart:user-1", Owner("user-1").StorageKey())
	assert.Equal(t, "cart:guest", GuestOwner.StorageKey())
	assert.Equal(t, "cart:guest", Owner("").StorageKey())
	assert.True(t, Owner("  ").IsGuest())
	assert.False(t, Owner("user-1").IsGuest())
}

func TestProductSnapshot_Validate(t *testing.T) {
	valid := ProductSnapshot{ProductRef: "p1", Currency: "CDF", UnitPrice: decimal.NewFromInt(10)}
	require.NoError(t, valid.Validate())

	noRef := valid
	noRef.ProductRef = " "
	assert.ErrorIs(t, noRef.Validate(), ErrInvalidProduct)

	noCurrency := valid
	noCurrency.Currency = ""
	assert.ErrorIs(t, noCurrency.Validate(), ErrInvalidProduct)

	negative := valid
	negative.UnitPrice = decimal.NewFromInt(-1)
	assert.ErrorIs(t, negative.Validate(), ErrInvalidProduct)
}

func TestSnapshot_RoundTripKeepsAddedAt(t *testing.T) {
	added := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cart := Cart{
		Owner: "user-1",
		Lines: []CartLine{{
			ProductRef: "p1",
			Product:    ProductSnapshot{ProductRef: "p1", Name: "Rice", UnitPrice: decimal.RequireFromString("12.50"), Currency: "USD"},
			Quantity:   2,
			AddedAt:    added,
		}},
	}

	data, err := cart.MarshalSnapshot()
	require.NoError(t, err)

	decoded, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	require.Len(t, decoded.Lines, 1)
	assert.True(t, decoded.Lines[0].AddedAt.Equal(added))
	assert.True(t, decoded.Lines[0].Product.UnitPrice.Equal(decimal.RequireFromString("12.5")))
}

func TestUnmarshalSnapshot_DropsInvalidLines(t *testing.T) {
	raw := []byte(`{"owner":"u","lines":[
		{"product_ref":"a","quantity":1},
		{"product_ref":"a","quantity":4},
		{"product_ref":"b","quantity":0},
		{"product_ref":"","quantity":3}
	]}`)

	cart, err := UnmarshalSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, cart.Quantities())
}

func TestUnmarshalSnapshot_InvalidJSON(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte(`{"owner":`))
	assert.ErrorContains(t, err, "unmarshal cart snapshot")
}

func TestCart_CloneIsIndependent(t *testing.T) {
	cart := Cart{Owner: "u", Lines: []CartLine{{ProductRef: "a", Quantity: 1}}}
	clone := cart.Clone()
	clone.Lines[0].Quantity = 9

	assert.Equal(t, 1, cart.Lines[0].Quantity)
	assert.Equal(t, 10, Cart{Lines: []CartLine{{Quantity: 1}, {Quantity: 9}}}.TotalItems())
}

func TestFreezeLines_TotalsPerCurrency(t *testing.T) {
	lines := []CartLine{
		{ProductRef: "a", Quantity: 2, Product: ProductSnapshot{UnitPrice: decimal.NewFromInt(1000), Currency: "CDF"}},
		{ProductRef: "b", Quantity: 3, Product: ProductSnapshot{UnitPrice: decimal.NewFromInt(500), Currency: "CDF"}},
		{ProductRef: "c", Quantity: 1, Product: ProductSnapshot{UnitPrice: decimal.NewFromInt(200), Currency: "USD"}},
	}

	items, totals := FreezeLines(lines)
	require.Len(t, items, 3)
	require.Len(t, totals, 2)
	assert.True(t, totals["CDF"].Equal(decimal.NewFromInt(3500)), "CDF total %s", totals["CDF"])
	assert.True(t, totals["USD"].Equal(decimal.NewFromInt(200)), "USD total %s", totals["USD"])
	assert.True(t, items[1].Subtotal.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, []string{"CDF", "USD"}, OrderSnapshot{Totals: totals}.Currencies())
}
