package catalog

import (
	"errors"
	"fmt"
	"iter"

	"dnsscanner/internal/domain"
	"dnsscanner/internal/ipv4"
)

const (
	// RangeSize is the number of addresses in one catalog range (a /16).
	RangeSize = 1 << 16

	MaxOctet = 256
)

var ErrEmptyCatalog = errors.New("catalog: no ranges to scan")

// Partition yields one range per (first, second) octet pair with first in
// [0, maxFirst) and second in [0, maxSecond), in ascending order. Bounds are
// clamped to [0, 256]. The sequence is lazy and can be ranged over again.
func Partition(maxFirst, maxSecond int) iter.Seq[domain.AddressRange] {
	maxFirst = clamp(maxFirst)
	maxSecond = clamp(maxSecond)

	return func(yield func(domain.AddressRange) bool) {
		for i := 0; i < maxFirst; i++ {
			for j := 0; j < maxSecond; j++ {
				if !yield(Range(i, j)) {
					return
				}
			}
		}
	}
}

// Size is the number of ranges Partition yields for the same bounds.
func Size(maxFirst, maxSecond int) int {
	return clamp(maxFirst) * clamp(maxSecond)
}

// Range returns the /16 starting at first.second.0.0.
func Range(first, second int) domain.AddressRange {
	start := ipv4.Address(uint32(first)<<24 | uint32(second)<<16)
	return domain.AddressRange{
		Start: start,
		End:   start + RangeSize - 1,
		Label: fmt.Sprintf("%d.%d.*.*", first, second),
	}
}

func clamp(bound int) int {
	switch {
	case bound < 0:
		return 0
	case bound > MaxOctet:
		return MaxOctet
	default:
		return bound
	}
}
