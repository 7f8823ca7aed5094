package model

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown sort order %q", s)
	}
}

// SortByDistance orders results by distance in place. Results without a
// distance sort after those with one in either order; ties keep their input
// order.
func SortByDistance(results []Result, order SortOrder) {
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Distance == nil && b.Distance == nil:
			return 0
		case a.Distance == nil:
			return 1
		case b.Distance == nil:
			return -1
		case order == Descending:
			return cmp.Compare(*b.Distance, *a.Distance)
		default:
			return cmp.Compare(*a.Distance, *b.Distance)
		}
	})
}
