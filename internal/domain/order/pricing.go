package order

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for amount calculation and validation.
var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrInvalidAmount = errors.New("invalid amount")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InvalidPriceError indicates a line item has a negative unit price.
type InvalidPriceError struct {
	ProductID string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("price must not be negative for product %s", e.ProductID)
}

// PricingPolicy holds the store fees, all in euro cents.
type PricingPolicy struct {
	FreeShippingThreshold int64
	ShippingFee           int64
	GiftWrapFee           int64
}

// DefaultPricing is the storefront's published policy: free shipping from
// €30, otherwise €2.99, gift wrapping €2.99.
var DefaultPricing = PricingPolicy{
	FreeShippingThreshold: 3000,
	ShippingFee:           299,
	GiftWrapFee:           299,
}

// Breakdown is the result of pricing a cart. All amounts are in cents.
type Breakdown struct {
	// EligibilityCents sums floor(price*100)*qty and only decides free shipping.
	EligibilityCents int64 `json:"eligibilityCents"`
	SubtotalCents    int64 `json:"subtotalCents"`
	ShippingCents    int64 `json:"shippingCents"`
	GiftWrapCents    int64 `json:"giftWrapCents"`
	TotalCents       int64 `json:"totalCents"`
	FreeShipping     bool  `json:"freeShipping"`
}

var hundred = decimal.NewFromInt(100)

// Quote prices a cart under the given policy.
func Quote(items []LineItem, giftWrap bool, policy PricingPolicy) (Breakdown, error) {
	if len(items) == 0 {
		return Breakdown{}, ErrEmptyCart
	}

	var b Breakdown
	for _, item := range items {
		if item.Quantity <= 0 {
			return Breakdown{}, &InvalidQuantityError{ProductID: item.ProductID}
		}
		if item.UnitPrice.IsNegative() {
			return Breakdown{}, &InvalidPriceError{ProductID: item.ProductID}
		}
		cents := item.UnitPrice.Mul(hundred)
		qty := int64(item.Quantity)
		b.EligibilityCents += cents.Floor().IntPart() * qty
		b.SubtotalCents += cents.Round(0).IntPart() * qty
	}

	b.FreeShipping = b.EligibilityCents >= policy.FreeShippingThreshold
	if !b.FreeShipping {
		b.ShippingCents = policy.ShippingFee
	}
	if giftWrap {
		b.GiftWrapCents = policy.GiftWrapFee
	}
	b.TotalCents = b.SubtotalCents + b.ShippingCents + b.GiftWrapCents

	return b, nil
}

// UnitCents returns the unit price of an item rounded to whole cents.
func UnitCents(item LineItem) int64 {
	return item.UnitPrice.Mul(hundred).Round(0).IntPart()
}

// Amounts are plain decimals with bounded digit counts. Exponent notation
// never reaches decimal.
var (
	centsRe  = regexp.MustCompile(`^[0-9]{1,16}(\.0{1,16})?$`)
	amountRe = regexp.MustCompile(`^[0-9]{1,9}(\.[0-9]{1,15})?$`)
	priceRe  = regexp.MustCompile(`^-?[0-9]{1,9}(\.[0-9]{1,15})?$`)
)

// ValidateAmount accepts a raw JSON value and returns it as cents. Only a
// positive integral JSON number passes; strings, booleans, null, zero,
// negative and fractional values are rejected with ErrInvalidAmount.
func ValidateAmount(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if !centsRe.MatchString(s) {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, ErrInvalidAmount
	}
	return d.IntPart(), nil
}

// FormatCents renders cents as a two-decimal euro amount, e.g. 1234 -> "12.34".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ToCents converts a euro amount to cents, rounding half up.
func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// ParseAmount reads a total that may arrive with currency formatting, such
// as "€12.34", "12,34 EUR" or a bare JSON number.
func ParseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, ErrInvalidAmount
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.Zero, ErrInvalidAmount
		}
		s = str
	}
	return ParseAmountString(s)
}

// ParseAmountString is ParseAmount for an already decoded string.
func ParseAmountString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimSuffix(s, "€")
	s = strings.TrimSuffix(strings.TrimSpace(s), "EUR")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if !amountRe.MatchString(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParsePrice parses a unit price such as "12.50". Negative prices parse so
// that Quote can report them per item.
func ParsePrice(s string) (decimal.Decimal, error) {
	if !priceRe.MatchString(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// decodePrice reads a JSON price given as a number or a string. A missing
// price is zero.
func decodePrice(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}
	if s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, ErrInvalidAmount
		}
		s = strings.TrimSpace(s)
	}
	return ParsePrice(s)
}
