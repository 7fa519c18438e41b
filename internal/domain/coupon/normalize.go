package coupon

import "strings"

// NormalizeCode returns the canonical form of a coupon code used for both
// storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
