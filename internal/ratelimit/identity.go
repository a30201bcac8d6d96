package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IdentityMode selects what a request is counted against.
type IdentityMode string

const (
	IdentityIP     IdentityMode = "ip"
	IdentityTenant IdentityMode = "tenant"
)

// Identity returns the counter identity for a request. Tenant mode counts
// against the public handle; IP mode uses ClientIP.
func Identity(mode IdentityMode, r *http.Request, publicHandle string, trusted []netip.Prefix) string {
	if mode == IdentityTenant {
		return "tenant:" + publicHandle
	}
	return "ip:" + ClientIP(r, trusted)
}

// ClientIP resolves the requester address. X-Forwarded-For is honoured only
// when the direct peer is a trusted proxy, and then the right-most hop that
// is not itself trusted wins.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer, ok := parseAddr(r.RemoteAddr)
	if !ok {
		return "unknown"
	}
	if !isTrusted(peer, trusted) {
		return peer.String()
	}
	header := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if header == "" {
		return peer.String()
	}
	hops := strings.Split(header, ",")
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !isTrusted(client, trusted) {
			break
		}
	}
	return client.String()
}

// ParseCIDRs converts configured proxy ranges, skipping unparsable entries.
func ParseCIDRs(cidrs []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes
}

func parseAddr(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, network := range trusted {
		if network.Contains(addr) {
			return true
		}
	}
	return false
}
