// Package tiers defines the ordered autonomy tiers a user can grant.
// Tiers gate which action classes may run automatically; comparisons use
// the order, never string equality.
package tiers

import (
	"fmt"
	"strings"
)

// Tier is a user's granted autonomy level.
type Tier int

const (
	// L0 is observe-only: READ results are returned as labeled
	// suggestions, WRITE is always refused.
	L0 Tier = iota
	// L1 grants read autonomy: READ executes, WRITE is refused.
	L1
	// L2 grants supervised writes: READ executes, WRITE is queued for
	// approval.
	L2
	// L3 grants full autonomy: everything executes.
	L3
)

// AllTiers in ascending order.
var AllTiers = []Tier{L0, L1, L2, L3}

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case L0:
		return "l0"
	case L1:
		return "l1"
	case L2:
		return "l2"
	case L3:
		return "l3"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	return t >= L0 && t <= L3
}

// AtLeast reports whether t grants at least the autonomy of min.
func (t Tier) AtLeast(min Tier) bool {
	return t >= min
}

// Parse converts a stored tier string ("l0".."l3", case-insensitive) into
// a Tier. Unknown values are an error, never silently coerced.
func Parse(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l0":
		return L0, nil
	case "l1":
		return L1, nil
	case "l2":
		return L2, nil
	case "l3":
		return L3, nil
	default:
		return L0, fmt.Errorf("unknown autonomy tier %q", s)
	}
}
