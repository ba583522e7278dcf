// Package addrutil normalizes peer addresses, builds the
// canonical keys used to deduplicate swarm entries, and
// parses the compact peer-list format used by trackers and
// peer exchange.
package addrutil

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// PeerAddress is an immutable ip/port/family triple.
type PeerAddress struct {
	IP     string
	Port   uint16
	Family Family
}

func (a PeerAddress) Key() string {
	return AddressKey(a.IP, a.Port)
}

func (a PeerAddress) String() string {
	return a.Key()
}

// NormalizeAddress parses and canonicalizes an IP literal:
// IPv6 is lowercased and compressed (the longest run of
// zero groups collapses to "::"). With extractMappedIPv4
// set, an IPv4-mapped IPv6 address (::ffff:a.b.c.d) comes
// back as the plain IPv4 address.
func NormalizeAddress(ip string, extractMappedIPv4 bool) (string, Family, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", IPv4, false
	}

	addr = addr.WithZone("")

	if extractMappedIPv4 {
		addr = addr.Unmap()
	}

	if addr.Is4() {
		return addr.String(), IPv4, true
	}

	return addr.String(), IPv6, true
}

// AddressKey returns the canonical swarm map key for an
// address: "ip:port", with IPv6 bracketed so the trailing
// port is unambiguous.
func AddressKey(ip string, port uint16) string {
	return net.JoinHostPort(ip, strconv.Itoa(int(port)))
}

// ParseAddressKey is the inverse of AddressKey.
func ParseAddressKey(key string) (PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(key)
	if err != nil {
		return PeerAddress{}, err
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("addrutil: bad port in key %q: %w", key, err)
	}

	ip, family, ok := NormalizeAddress(host, false)
	if !ok {
		return PeerAddress{}, fmt.Errorf("addrutil: bad address in key %q", key)
	}

	return PeerAddress{IP: ip, Port: uint16(port), Family: family}, nil
}

// IsValidPort reports whether a peer may be contacted on
// the port. Port 0 is never valid.
func IsValidPort(port uint16) bool {
	return port != 0
}

// IsSuspiciousPort flags ports real BitTorrent peers never
// listen on: 0, 1, and the low system range. 80 and 443 are
// excepted since some clients tunnel over them. Suspicious
// peers are still usable, just deprioritized.
func IsSuspiciousPort(port uint16) bool {
	if port < 1024 {
		return port != 80 && port != 443
	}

	return false
}

// PortScorePenalty returns the (negative) contribution a
// suspicious port makes to a peer's connect score.
func PortScorePenalty(port uint16) int {
	if IsSuspiciousPort(port) {
		return -32
	}

	return 0
}

const (
	compactLenIPv4 = 6  // 4-byte address + 2-byte port
	compactLenIPv6 = 18 // 16-byte address + 2-byte port
)

// ParseCompactPeers splits a flat compact peer list into
// fixed-size records: 6 bytes per IPv4 peer, 18 per IPv6.
// Ports are big-endian. A trailing partial record is
// discarded.
func ParseCompactPeers(data []byte, family Family) []PeerAddress {
	size := compactLenIPv4
	if family == IPv6 {
		size = compactLenIPv6
	}

	out := make([]PeerAddress, 0, len(data)/size)
	for i := 0; i+size <= len(data); i += size {
		var ip net.IP = append(net.IP{}, data[i:i+size-2]...)
		port := binary.BigEndian.Uint16(data[i+size-2 : i+size])

		out = append(out, PeerAddress{
			IP:     ip.String(),
			Port:   port,
			Family: family,
		})
	}

	return out
}
