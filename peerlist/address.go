package peerlist

import (
	"net"
	"strings"
)

// privateRanges used by cleanAddress to rewrite RFC1918/loopback-ish literals
// to "localhost", matching the canonical form used for storage and equality.
var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	ret := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		ret = append(ret, n)
	}
	return ret
}

// isIPLiteral reports whether s parses as a v4 or v6 address literal.
func isIPLiteral(s string) bool {
	return net.ParseIP(s) != nil
}

func isPrivate(ip net.IP) bool {
	for _, r := range privateRanges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// cleanAddress normalizes an address to the canonical form used for storage
// and equality:
//   - strip a leading "::ffff:" mapped-v4 prefix
//   - rewrite private-range literals (loopback, RFC1918, ULA) to "localhost"
//   - pass anything else (FQDNs, public literals) through unchanged
//
// cleanAddress is idempotent: applying it twice yields the same result,
// since "localhost" and any already-unmapped literal are fixed points.
func cleanAddress(addr string) string {
	a := strings.TrimPrefix(addr, "::ffff:")

	ip := net.ParseIP(a)
	if ip == nil {
		// not a literal at all (FQDN) -- pass through unchanged
		return a
	}
	if isPrivate(ip) {
		return "localhost"
	}
	return a
}
