package referrers

import (
	"net/url"
	"strings"
)

// Referrer categories stored on sessions and events.
const (
	Direct   = "direct"
	Referral = "referral"
)

// providers are matched in order as substrings of the lower-cased referrer.
var providers = []string{
	"google",
	"facebook",
	"instagram",
	"twitter",
	"youtube",
	"linkedin",
	"whatsapp",
}

// Categorize maps a referrer URL to a provider name, Direct when empty, or
// Referral for any other source.
func Categorize(referrer string) string {
	ref := strings.ToLower(strings.TrimSpace(referrer))
	if ref == "" {
		return Direct
	}
	for _, p := range providers {
		if strings.Contains(ref, p) {
			return p
		}
	}
	return Referral
}

// Categories lists every value Categorize can return.
func Categories() []string {
	out := make([]string, 0, len(providers)+2)
	out = append(out, providers...)
	return append(out, Direct, Referral)
}

// Host reduces a referrer URL to its lower-cased host so paths and query
// strings from the referring page are never stored. Unparseable input
// yields "".
func Host(referrer string) string {
	ref := strings.TrimSpace(referrer)
	if ref == "" {
		return ""
	}
	if !strings.Contains(ref, "://") {
		ref = "//" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
