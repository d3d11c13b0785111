package order

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"time"
)

var orderNumberRe = regexp.MustCompile(`^ORD-[0-9]{1,16}-[0-9]{1,3}$`)

// NewOrderNumber returns a human-facing order number of the form
// ORD-<unix ms>-<0..999>.
func NewOrderNumber(now time.Time) string {
	return "ORD-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.Itoa(rand.IntN(1000))
}

// IsOrderNumber reports whether s has the shape produced by NewOrderNumber.
func IsOrderNumber(s string) bool {
	return orderNumberRe.MatchString(s)
}

// DerivedOrderNumber builds a stable order number from a provider object id.
// Retries of the same provider event always map to the same number.
func DerivedOrderNumber(providerID string) string {
	return "ORD-" + providerID
}
