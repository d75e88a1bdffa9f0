package ipv4

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

var (
	ErrMalformedAddress = errors.New("ipv4: malformed address")
	ErrRangeExhausted   = errors.New("ipv4: address range exhausted")
)

// Address is an IPv4 address expressed as its 32-bit ordinal, most significant
// octet first.
type Address uint32

const (
	Min Address = 0
	Max Address = math.MaxUint32
)

// Parse converts dotted-quad text into an Address. Exactly four decimal octets
// in the range 0-255 are accepted.
func Parse(text string) (Address, error) {
	parts := strings.Split(text, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAddress, text)
	}

	var value uint32
	for _, part := range parts {
		octet, ok := parseOctet(part)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrMalformedAddress, text)
		}
		value = value<<8 | uint32(octet)
	}

	return Address(value), nil
}

func parseOctet(part string) (uint8, bool) {
	if part == "" || len(part) > 3 {
		return 0, false
	}
	for _, r := range part {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(part)
	if err != nil || n > 255 {
		return 0, false
	}
	return uint8(n), true
}

// MustParse is Parse for constants and tests.
func MustParse(text string) Address {
	addr, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	var b strings.Builder
	b.Grow(15)
	for i, shift := range [4]uint{24, 16, 8, 0} {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(int(uint32(a) >> shift & 0xff)))
	}
	return b.String()
}

func (a Address) Octets() [4]byte {
	return [4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}
}

func (a Address) IP() net.IP {
	o := a.Octets()
	return net.IPv4(o[0], o[1], o[2], o[3])
}

func FromIP(ip net.IP) (Address, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedAddress, ip)
	}
	return Address(uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])), nil
}

// Increment returns the next address. 255.255.255.255 has no successor.
func Increment(a Address) (Address, error) {
	if a == Max {
		return 0, fmt.Errorf("%w: no address after %s", ErrRangeExhausted, a)
	}
	return a + 1, nil
}

func IncrementText(text string) (string, error) {
	addr, err := Parse(text)
	if err != nil {
		return "", err
	}
	next, err := Increment(addr)
	if err != nil {
		return "", err
	}
	return next.String(), nil
}

// Distance is the absolute difference between two ordinals.
func Distance(a, b Address) uint32 {
	if a > b {
		return uint32(a - b)
	}
	return uint32(b - a)
}

func DistanceText(a, b string) (uint32, error) {
	first, err := Parse(a)
	if err != nil {
		return 0, err
	}
	second, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return Distance(first, second), nil
}
