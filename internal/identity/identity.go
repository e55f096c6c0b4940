// Package identity derives the anonymized visitor identifiers used by every
// aggregate. Raw client addresses never leave this package.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/netip"
	"strings"
)

// FallbackAddress is hashed when a request carries no usable client address.
const FallbackAddress = "0.0.0.0"

// Anonymizer turns client addresses into salted, irreversible hashes.
type Anonymizer struct {
	salt string
}

// NewAnonymizer returns an Anonymizer bound to the given secret salt.
func NewAnonymizer(salt string) *Anonymizer {
	return &Anonymizer{salt: salt}
}

// Hash returns the hex SHA-256 of salt+address. The same address under the same
// salt always yields the same value; empty or unparseable input is hashed as
// FallbackAddress.
func (a *Anonymizer) Hash(address string) string {
	clean := NormalizeAddress(address)
	if clean == "" {
		clean = FallbackAddress
	}
	sum := sha256.Sum256([]byte(a.salt + clean))
	return hex.EncodeToString(sum[:])
}

// ClientAddress picks the address to anonymize: the first entry of the
// forwarded-for chain, then the real-ip header, then the connection address.
func ClientAddress(forwardedFor, realIP, remote string) string {
	if forwardedFor != "" {
		first := strings.Split(forwardedFor, ",")[0]
		if clean := NormalizeAddress(first); clean != "" {
			return clean
		}
	}
	if clean := NormalizeAddress(realIP); clean != "" {
		return clean
	}
	return NormalizeAddress(remote)
}

// NormalizeAddress strips quotes, ports, brackets and zone identifiers and
// returns the canonical textual form, or "" when the input is not an IP.
func NormalizeAddress(raw string) string {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return ""
	}

	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return addrPort.Addr().Unmap().String()
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return addr.Unmap().String()
	}

	if host, _, err := net.SplitHostPort(clean); err == nil && host != clean {
		return NormalizeAddress(host)
	}

	return ""
}
