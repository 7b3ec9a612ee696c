// Copyright 2017 Google Inc.
// Copyright 2020 Acnodal Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ipmath parses, formats and orders IPv4 and IPv6 addresses and
// answers CIDR containment/iteration questions for the rest of the core.
package ipmath

import (
	"bytes"
	"fmt"
	"math/big"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
)

// Family identifies an address family.
type Family int

const (
	// FamilyV4 is the IPv4 address family.
	FamilyV4 Family = 4
	// FamilyV6 is the IPv6 address family.
	FamilyV6 Family = 6
)

func (f Family) String() string {
	if f == FamilyV4 {
		return "ipv4"
	}
	return "ipv6"
}

// Subnet is a parsed CIDR block together with its family.
type Subnet struct {
	Net    *net.IPNet
	Family Family
}

// ParseSubnet parses a CIDR string such as "10.99.99.0/24" into a Subnet.
func ParseSubnet(cidrStr string) (Subnet, error) {
	ip, n, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return Subnet{}, fmt.Errorf("invalid subnet %q: %w", cidrStr, err)
	}
	fam := FamilyOf(ip)
	n.IP = n.IP.Mask(n.Mask)
	return Subnet{Net: n, Family: fam}, nil
}

// FamilyOf reports the address family of ip.
func FamilyOf(ip net.IP) Family {
	if ip.To4() != nil {
		return FamilyV4
	}
	return FamilyV6
}

// ParseIP parses a textual address (dotted-quad or RFC-5952 form).
func ParseIP(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address %q", s)
	}
	return ip, nil
}

// Format renders ip in its canonical textual form: dotted-quad for v4,
// RFC-5952 canonical form for v6 (net.IP.String already produces both).
func Format(ip net.IP) string {
	return ip.String()
}

// Contains reports whether subnet contains ip.
func (s Subnet) Contains(ip net.IP) bool {
	return s.Net.Contains(ip)
}

// Range returns the first and last address of the subnet, inclusive.
func (s Subnet) Range() (first, last net.IP) {
	return cidr.AddressRange(s.Net)
}

// Broadcast returns the subnet's broadcast address. Only meaningful for v4.
func (s Subnet) Broadcast() net.IP {
	_, last := cidr.AddressRange(s.Net)
	return last
}

// NetworkAddress returns the subnet's network (all-zero host bits) address.
func (s Subnet) NetworkAddress() net.IP {
	first, _ := cidr.AddressRange(s.Net)
	return first
}

// Size returns the number of addresses in the subnet. For v6 blocks too
// large to fit a uint64 it returns math.MaxUint64.
func (s Subnet) Size() uint64 {
	count := cidr.AddressCount(s.Net)
	if !count.IsUint64() {
		return ^uint64(0)
	}
	return count.Uint64()
}

// Overlaps reports whether a and b have any address in common.
func Overlaps(a, b Subnet) bool {
	return a.Net.Contains(b.Net.IP) || b.Net.Contains(a.Net.IP)
}

// Next returns the address immediately after ip, or nil if ip is the
// maximum representable address for its family.
func Next(ip net.IP) net.IP {
	n := dup(ip)
	if overflowed := inc(n); overflowed {
		return nil
	}
	return n
}

// Compare orders two IPs numerically, handling mixed 4-in-16 forms.
func Compare(a, b net.IP) int {
	return bytes.Compare(normalize(a), normalize(b))
}

// InRange reports whether min <= ip <= max.
func InRange(ip, min, max net.IP) bool {
	return Compare(ip, min) >= 0 && Compare(ip, max) <= 0
}

// ToInt renders ip as an arbitrary-precision integer; the engine derives
// its address_num sort field from it. IP-record keys are address
// strings, not this number.
func ToInt(ip net.IP) *big.Int {
	n := new(big.Int)
	n.SetBytes(normalize(ip))
	return n
}

// FromInt reconstructs a net.IP of the given family from a numeric value
// previously produced by ToInt.
func FromInt(n *big.Int, family Family) net.IP {
	width := 4
	if family == FamilyV6 {
		width = 16
	}
	b := n.Bytes()
	if len(b) > width {
		b = b[len(b)-width:]
	}
	out := make(net.IP, width)
	copy(out[width-len(b):], b)
	return out
}

func normalize(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

func dup(ip net.IP) net.IP {
	n := normalize(ip)
	d := make(net.IP, len(n))
	copy(d, n)
	return d
}

// inc increments ip in place and reports whether it overflowed (wrapped
// back to all-zeros).
func inc(ip net.IP) bool {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			return false
		}
	}
	return true
}
