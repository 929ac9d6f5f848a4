package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	GuestOwner       Owner = "guest"
	storageKeyPrefix       = "cart:"
)

// Owner identifies whose cart is active: an authenticated user id or GuestOwner.
type Owner string

func (o Owner) IsGuest() bool {
	return o == GuestOwner || strings.TrimSpace(string(o)) == ""
}

// Normalize maps the empty identity to GuestOwner.
func (o Owner) Normalize() Owner {
	if o.IsGuest() {
		return GuestOwner
	}
	return Owner(strings.TrimSpace(string(o)))
}

func (o Owner) StorageKey() string {
	return storageKeyPrefix + string(o.Normalize())
}

func (o Owner) String() string {
	return string(o)
}

// ProductSnapshot is the denormalized copy of a catalog item taken at add time.
// It is never re-validated against the catalog.
type ProductSnapshot struct {
	ProductRef string          `json:"product_ref"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Currency   string          `json:"currency"`
	StockHint  int             `json:"stock_hint"`
	ImageURL   string          `json:"image_url,omitempty"`
}

func (p ProductSnapshot) Validate() error {
	if strings.TrimSpace(p.ProductRef) == "" {
		return fmt.Errorf("%w: product ref required", ErrInvalidProduct)
	}
	if strings.TrimSpace(p.Currency) == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidProduct)
	}
	if p.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: negative unit price", ErrInvalidProduct)
	}
	return nil
}

type CartLine struct {
	ProductRef string          `json:"product_ref"`
	Product    ProductSnapshot `json:"product"`
	Quantity   int             `json:"quantity"`
	AddedAt    time.Time       `json:"added_at"`
}

// RemoteLine is a cart row as returned by the remote gateway.
type RemoteLine struct {
	ProductRef string
	Product    ProductSnapshot
	Quantity   int
	AddedAt    time.Time
}

func (r RemoteLine) ToCartLine() CartLine {
	product := r.Product
	if product.ProductRef == "" {
		product.ProductRef = r.ProductRef
	}
	return CartLine{
		ProductRef: r.ProductRef,
		Product:    product,
		Quantity:   r.Quantity,
		AddedAt:    r.AddedAt,
	}
}

type Cart struct {
	Owner     Owner      `json:"owner"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func NewCart(owner Owner) Cart {
	return Cart{Owner: owner.Normalize(), Lines: []CartLine{}}
}

// Find returns the index of the line for ref, or -1.
func (c Cart) Find(ref string) int {
	for i, line := range c.Lines {
		if line.ProductRef == ref {
			return i
		}
	}
	return -1
}

func (c Cart) Line(ref string) (CartLine, bool) {
	if i := c.Find(ref); i >= 0 {
		return c.Lines[i], true
	}
	return CartLine{}, false
}

func (c Cart) Clone() Cart {
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return Cart{Owner: c.Owner, Lines: lines, UpdatedAt: c.UpdatedAt}
}

func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

func (c Cart) TotalItems() int {
	total := 0
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

// Quantities maps product ref to quantity.
func (c Cart) Quantities() map[string]int {
	out := make(map[string]int, len(c.Lines))
	for _, line := range c.Lines {
		out[line.ProductRef] = line.Quantity
	}
	return out
}

func (c Cart) MarshalSnapshot() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal cart snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a durable snapshot. Lines with a non-positive quantity
// or a duplicated product ref are dropped so a corrupted snapshot cannot break the
// cart invariants.
func UnmarshalSnapshot(data []byte) (Cart, error) {
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, fmt.Errorf("unmarshal cart snapshot: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Lines))
	lines := make([]CartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		if line.Quantity <= 0 || line.ProductRef == "" {
			continue
		}
		if _, dup := seen[line.ProductRef]; dup {
			continue
		}
		seen[line.ProductRef] = struct{}{}
		lines = append(lines, line)
	}
	c.Lines = lines
	return c, nil
}
