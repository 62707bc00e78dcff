// Package overlay implements the identity and addressing primitives shared
// by every jumper component: the 128-bit overlay address, transport kind
// tags, and the whitelist/role-assignment rules the spec ties to address
// ordering.
package overlay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidAddress is returned when an overlay address string cannot be parsed.
var ErrInvalidAddress = errors.New("overlay: invalid address")

// Address is a 128-bit overlay identifier, represented as a Yggdrasil-style
// IPv6 address (the overlay's addressing scheme maps node keys onto the
// 200::/7 range, but this type makes no assumption beyond "16 raw bytes").
type Address [16]byte

// ParseAddress parses a canonical IPv6-formatted overlay address.
func ParseAddress(s string) (Address, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if !addr.Is6() {
		return Address{}, fmt.Errorf("%w: not a 128-bit address: %s", ErrInvalidAddress, s)
	}
	return Address(addr.As16()), nil
}

// MustParseAddress parses s and panics on error; for use with constants in tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the address in canonical IPv6 notation.
func (a Address) String() string {
	return netip.AddrFrom16(a).String()
}

// Hex renders the raw 16 bytes as a hex string, useful for log fields where
// a compact, grep-friendly identifier matters more than readability.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Less reports whether a sorts lexicographically before b, byte by byte.
// This ordering is the sole source of truth for rendezvous role assignment
// (spec.md 4.3) and the QUIC client/server role (spec.md 4.4): the smaller
// address always initiates / dials.
func (a Address) Less(b Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Initiates reports whether a is the initiator of a rendezvous/traversal
// exchange against remote. The two addresses are always distinct in
// practice (spec.md 4.3 "a tie cannot occur").
func (a Address) Initiates(remote Address) bool {
	return a.Less(remote)
}

// Subnet is a CIDR-style overlay subnet used for whitelist matching.
type Subnet struct {
	prefix netip.Prefix
}

// ParseSubnet parses either a bare address ("300::1") or a CIDR
// ("300::/8") into a Subnet that matches exactly that address, or the
// whole prefix, respectively.
func ParseSubnet(s string) (Subnet, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return Subnet{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return Subnet{prefix: p}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return Subnet{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return Subnet{prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
}

// Contains reports whether addr falls within the subnet.
func (s Subnet) Contains(addr Address) bool {
	return s.prefix.Contains(netip.AddrFrom16(addr))
}

// Whitelist is an allow-list of overlay addresses/subnets. A nil or empty
// Whitelist allows every address (spec.md 6: "absent ⇒ allow all").
type Whitelist []Subnet

// ParseWhitelist parses a list of address/CIDR strings.
func ParseWhitelist(entries []string) (Whitelist, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	wl := make(Whitelist, 0, len(entries))
	for _, e := range entries {
		s, err := ParseSubnet(e)
		if err != nil {
			return nil, err
		}
		wl = append(wl, s)
	}
	return wl, nil
}

// Allows reports whether addr passes the whitelist check.
func (w Whitelist) Allows(addr Address) bool {
	if len(w) == 0 {
		return true
	}
	for _, s := range w {
		if s.Contains(addr) {
			return true
		}
	}
	return false
}
