package domain

import (
	"fmt"
	"time"

	"dnsscanner/internal/ipv4"
)

// AddressRange is an inclusive block of addresses, usually one /16 of the
// catalog.
type AddressRange struct {
	Start ipv4.Address
	End   ipv4.Address
	Label string
}

func (r AddressRange) Contains(addr ipv4.Address) bool {
	return addr >= r.Start && addr <= r.End
}

func (r AddressRange) Size() uint64 {
	return uint64(r.End) - uint64(r.Start) + 1
}

func (r AddressRange) Span() Span {
	return Span{Start: r.Start, End: r.End}
}

func (r AddressRange) String() string {
	if r.Label != "" {
		return r.Label
	}
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

// Span is the inclusive address interval handed to the executor.
type Span struct {
	Start ipv4.Address `json:"start"`
	End   ipv4.Address `json:"end"`
}

func ParseSpan(from, to string) (Span, error) {
	start, err := ipv4.Parse(from)
	if err != nil {
		return Span{}, err
	}
	end, err := ipv4.Parse(to)
	if err != nil {
		return Span{}, err
	}
	return Span{Start: start, End: end}, nil
}

func (s Span) Valid() bool {
	return s.Start <= s.End
}

func (s Span) Size() uint64 {
	if !s.Valid() {
		return 0
	}
	return uint64(s.End) - uint64(s.Start) + 1
}

func (s Span) String() string {
	return fmt.Sprintf("%s-%s", s.Start, s.End)
}

// RangeRecency pairs a range with the observation time of its most recent
// record. LastScanAt is nil for ranges that were never scanned.
type RangeRecency struct {
	Range      AddressRange
	LastScanAt *time.Time
}

func (r RangeRecency) Scanned() bool {
	return r.LastScanAt != nil
}
