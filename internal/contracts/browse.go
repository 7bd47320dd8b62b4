package contracts

import (
	"sort"
	"time"
)

// Browse filters and sort orders are tags mapped to pure predicates and
// comparators, so callers cycle through them without the tag type
// carrying any behavior itself.

type Filter string

const (
	FilterAll          Filter = "ALL"
	FilterHighValue    Filter = "HIGH_VALUE"
	FilterExpiringSoon Filter = "EXPIRING_SOON"
	FilterShortHaul    Filter = "SHORT_HAUL"
	FilterLongHaul     Filter = "LONG_HAUL"
	FilterHighBounty   Filter = "HIGH_BOUNTY"
)

var filterOrder = []Filter{
	FilterAll, FilterHighValue, FilterExpiringSoon,
	FilterShortHaul, FilterLongHaul, FilterHighBounty,
}

func (f Filter) predicate(now time.Time) func(*Contract) bool {
	switch f {
	case FilterHighValue:
		return func(c *Contract) bool { return c.TotalValue() >= 500 }
	case FilterExpiringSoon:
		return func(c *Contract) bool { return c.TimeRemaining(now) < 10*time.Minute }
	case FilterShortHaul:
		return func(c *Contract) bool { return c.TotalDistance() < 500 }
	case FilterLongHaul:
		return func(c *Contract) bool { return c.TotalDistance() >= 1000 }
	case FilterHighBounty:
		return func(c *Contract) bool { return c.CurrentBounty >= 200 }
	default:
		return func(*Contract) bool { return true }
	}
}

func (f Filter) Next() Filter     { return cycle(filterOrder, f, 1) }
func (f Filter) Previous() Filter { return cycle(filterOrder, f, -1) }

type SortOrder string

const (
	SortBountyHigh   SortOrder = "BOUNTY_HIGH"
	SortBountyLow    SortOrder = "BOUNTY_LOW"
	SortDistanceNear SortOrder = "DISTANCE_NEAR"
	SortDistanceFar  SortOrder = "DISTANCE_FAR"
	SortExpirySoon   SortOrder = "EXPIRY_SOON"
	SortExpiryLater  SortOrder = "EXPIRY_LATER"
)

var sortOrderOrder = []SortOrder{
	SortBountyHigh, SortBountyLow, SortDistanceNear,
	SortDistanceFar, SortExpirySoon, SortExpiryLater,
}

func (s SortOrder) less(now time.Time) func(a, b *Contract) bool {
	switch s {
	case SortBountyLow:
		return func(a, b *Contract) bool { return a.CurrentBounty < b.CurrentBounty }
	case SortDistanceNear:
		return func(a, b *Contract) bool { return a.TotalDistance() < b.TotalDistance() }
	case SortDistanceFar:
		return func(a, b *Contract) bool { return a.TotalDistance() > b.TotalDistance() }
	case SortExpirySoon:
		return func(a, b *Contract) bool { return a.TimeRemaining(now) < b.TimeRemaining(now) }
	case SortExpiryLater:
		return func(a, b *Contract) bool { return a.TimeRemaining(now) > b.TimeRemaining(now) }
	default:
		return func(a, b *Contract) bool { return a.CurrentBounty > b.CurrentBounty }
	}
}

func (s SortOrder) Next() SortOrder     { return cycle(sortOrderOrder, s, 1) }
func (s SortOrder) Previous() SortOrder { return cycle(sortOrderOrder, s, -1) }

func cycle[T comparable](order []T, cur T, step int) T {
	for i, v := range order {
		if v == cur {
			return order[(i+step+len(order))%len(order)]
		}
	}
	return order[0]
}

// Browse filters and sorts a contract list in place and returns it.
func Browse(cs []Contract, f Filter, s SortOrder, now time.Time) []Contract {
	pred := f.predicate(now)
	out := cs[:0]
	for i := range cs {
		if pred(&cs[i]) {
			out = append(out, cs[i])
		}
	}
	less := s.less(now)
	sort.SliceStable(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}
