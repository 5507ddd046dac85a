package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	urlDomainRe  = regexp.MustCompile(`^https?://([^/]+)`)
	acctDomainRe = regexp.MustCompile(`^[^@]*@(.+)$`)
	badDomainRe  = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
)

// CleanDomain turns what a user typed into a bare host name.
//
// Input is lowercased first. A URL yields its host ("https://Example.COM:443/path" -> "example.com"),
// an account handle yields the host after the last @ ("@user@example.com" -> "example.com"),
// anything else has every character outside [a-zA-Z0-9_.-] removed.
func CleanDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}

	if m := urlDomainRe.FindStringSubmatch(d); m != nil {
		return bareHost(m[1])
	}

	if m := acctDomainRe.FindStringSubmatch(d); m != nil {
		return bareHost(m[1])
	}

	return badDomainRe.ReplaceAllString(d, "")
}

// bareHost reduces an authority to its host name. Userinfo, port, path, query and fragment are dropped
// so the trust check sees the same host the transport dials.
func bareHost(authority string) string {
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		authority = authority[i+1:]
	}
	if i := strings.IndexAny(authority, ":/?#"); i >= 0 {
		authority = authority[:i]
	}
	return badDomainRe.ReplaceAllString(authority, "")
}

// NormalizeHost trims and lowercases a host before any trust-list lookup.
func NormalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// HostDigest returns the hex SHA-256 of the normalized host. Blocked hosts are keyed by this value.
func HostDigest(host string) string {
	sum := sha256.Sum256([]byte(NormalizeHost(host)))
	return hex.EncodeToString(sum[:])
}
