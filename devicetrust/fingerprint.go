// Package devicetrust derives stable device fingerprints from client
// network context and evaluates them against the per-user trust lists.
package devicetrust

import (
	"crypto/sha256"
	"net"
	"strconv"
	"strings"
)

// FingerprintConfig controls the subnet granularity of the fingerprint.
// Hashing at subnet level tolerates ordinary IP churn (DHCP, carrier NAT)
// while still distinguishing client contexts.
type FingerprintConfig struct {
	IPv4PrefixBits int // default 24
	IPv6PrefixBits int // default 64
}

func (c *FingerprintConfig) applyDefaults() {
	if c.IPv4PrefixBits <= 0 || c.IPv4PrefixBits > 32 {
		c.IPv4PrefixBits = 24
	}
	if c.IPv6PrefixBits <= 0 || c.IPv6PrefixBits > 128 {
		c.IPv6PrefixBits = 64
	}
}

// Fingerprint hashes (client subnet, user agent) into a stable device
// hash. forwardedAddr may carry a port or an X-Forwarded-For list; only
// the first hop is used. Unparseable addresses fall back to the raw
// string so a fingerprint is always produced.
func Fingerprint(forwardedAddr, userAgent string, cfg FingerprintConfig) [32]byte {
	cfg.applyDefaults()
	subnet := subnetOf(firstHop(forwardedAddr), cfg)
	return sha256.Sum256([]byte(subnet + "\x00" + userAgent))
}

func firstHop(addr string) string {
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = addr[:i]
	}
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func subnetOf(host string, cfg FingerprintConfig) string {
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(cfg.IPv4PrefixBits, 32))
		return masked.String() + "/" + strconv.Itoa(cfg.IPv4PrefixBits)
	}
	masked := ip.Mask(net.CIDRMask(cfg.IPv6PrefixBits, 128))
	return masked.String() + "/" + strconv.Itoa(cfg.IPv6PrefixBits)
}
