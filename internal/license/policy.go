package license

import (
	"crypto/subtle"
	"encoding/binary"
	"net"
	"strings"
)

// Policy is the set of optional request-origin restrictions attached to
// a license. Each check defaults to "pass" when unconfigured: an empty
// allowlist allows everything.
type Policy struct {
	// AllowedIPs entries may be an exact IPv4 address, CIDR notation,
	// a trailing-wildcard form (a.b.*.*), or an inclusive dashed range
	// (a.b.c.1-a.b.c.100). Matching is OR across entries.
	AllowedIPs []string `json:"allowed_ips,omitempty"`
	// AllowedDomains entries are bare hostnames or *.-prefixed
	// wildcards matched against the parsed site hostname.
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	// FingerprintHash is a sha-256 hex digest; empty disables the check.
	FingerprintHash string `json:"fingerprint_hash,omitempty"`
}

// PolicyCheck names the specific check a violation came from, so the
// caller can produce an actionable error and audit entry.
type PolicyCheck string

const (
	CheckIPAllowlist     PolicyCheck = "ip_allowlist"
	CheckDomainAllowlist PolicyCheck = "domain_allowlist"
	CheckFingerprint     PolicyCheck = "hardware_fingerprint"
)

// PolicyDecision is the result of evaluating all configured checks.
type PolicyDecision struct {
	Allowed     bool
	FailedCheck PolicyCheck
}

// Evaluate runs the three independent checks in order and reports the
// first failure. All checks pass on an empty policy.
func (p Policy) Evaluate(sourceIP, siteURL, fingerprint string) PolicyDecision {
	if !p.ipAllowed(sourceIP) {
		return PolicyDecision{FailedCheck: CheckIPAllowlist}
	}
	if !p.domainAllowed(siteURL) {
		return PolicyDecision{FailedCheck: CheckDomainAllowlist}
	}
	if !p.fingerprintMatches(fingerprint) {
		return PolicyDecision{FailedCheck: CheckFingerprint}
	}
	return PolicyDecision{Allowed: true}
}

func (p Policy) ipAllowed(sourceIP string) bool {
	if len(p.AllowedIPs) == 0 {
		return true
	}
	candidate := parseIPv4(sourceIP)
	if candidate == nil {
		return false
	}
	for _, entry := range p.AllowedIPs {
		if matchIPEntry(entry, sourceIP, candidate) {
			return true
		}
	}
	return false
}

// matchIPEntry matches one allowlist entry against the candidate IP.
func matchIPEntry(entry, raw string, candidate net.IP) bool {
	entry = strings.TrimSpace(entry)
	switch {
	case strings.Contains(entry, "/"):
		return matchCIDR(entry, candidate)
	case strings.Contains(entry, "*"):
		return matchWildcardIP(entry, raw)
	case strings.Contains(entry, "-"):
		return matchIPRange(entry, candidate)
	default:
		exact := parseIPv4(entry)
		return exact != nil && exact.Equal(candidate)
	}
}

// matchCIDR converts both address and prefix to 32-bit integers and
// compares under the prefix mask.
func matchCIDR(entry string, candidate net.IP) bool {
	_, network, err := net.ParseCIDR(entry)
	if err != nil {
		return false
	}
	return network.Contains(candidate)
}

// matchWildcardIP compares octet-by-octet, treating * as "any".
func matchWildcardIP(entry, raw string) bool {
	entryOctets := strings.Split(entry, ".")
	ipOctets := strings.Split(raw, ".")
	if len(entryOctets) != 4 || len(ipOctets) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if entryOctets[i] == "*" {
			continue
		}
		if entryOctets[i] != ipOctets[i] {
			return false
		}
	}
	return true
}

// matchIPRange compares the candidate's 32-bit integer value against
// the two range endpoints, inclusive.
func matchIPRange(entry string, candidate net.IP) bool {
	parts := strings.SplitN(entry, "-", 2)
	if len(parts) != 2 {
		return false
	}
	lo := parseIPv4(strings.TrimSpace(parts[0]))
	hi := parseIPv4(strings.TrimSpace(parts[1]))
	if lo == nil || hi == nil {
		return false
	}
	v := ipToUint32(candidate)
	return v >= ipToUint32(lo) && v <= ipToUint32(hi)
}

func parseIPv4(s string) net.IP {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return nil
	}
	return ip.To4()
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

// domainAllowed extracts the candidate host from the site URL and
// matches it against the allowlist. An unparseable URL fails closed.
func (p Policy) domainAllowed(siteURL string) bool {
	if len(p.AllowedDomains) == 0 {
		return true
	}
	u, err := ParseSiteURL(siteURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, entry := range p.AllowedDomains {
		if matchDomainEntry(strings.ToLower(strings.TrimSpace(entry)), host) {
			return true
		}
	}
	return false
}

// matchDomainEntry matches on the parsed hostname, never on a raw
// substring: *.example.com matches example.com and any subdomain, but
// notexample.com must not match.
func matchDomainEntry(entry, host string) bool {
	if entry == "" {
		return false
	}
	if strings.HasPrefix(entry, "*.") {
		apex := entry[2:]
		return host == apex || strings.HasSuffix(host, "."+apex)
	}
	return host == entry
}

// fingerprintMatches compares the stored digest against the submitted
// fingerprint using a constant-time comparison to avoid timing
// side-channels. Comparison is case-insensitive and whitespace-trimmed;
// an empty stored value disables the check.
func (p Policy) fingerprintMatches(submitted string) bool {
	stored := strings.ToLower(strings.TrimSpace(p.FingerprintHash))
	if stored == "" {
		return true
	}
	candidate := strings.ToLower(strings.TrimSpace(submitted))
	if len(candidate) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}
