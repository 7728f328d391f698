package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// SourcePolicyConfig configures which publisher domains may produce trends and
// how much authority each one carries when candidates are ranked.
type SourcePolicyConfig struct {
	Allow     []string       `mapstructure:"allow" json:"allow"`
	Disallow  []string       `mapstructure:"disallow" json:"disallow"`
	Authority map[string]int `mapstructure:"authority" json:"authority"`
}

// Normalize cleans entries and removes duplicates.
func (c SourcePolicyConfig) Normalize() SourcePolicyConfig {
	norm := c
	norm.Allow = sanitizeDomainList(norm.Allow)
	norm.Disallow = sanitizeDomainList(norm.Disallow)
	authority := make(map[string]int, len(norm.Authority))
	for host, weight := range norm.Authority {
		key := NormalizeHost(host)
		if key == "" {
			continue
		}
		if weight < 1 {
			weight = 1
		}
		if weight > 5 {
			weight = 5
		}
		authority[key] = weight
	}
	norm.Authority = authority
	return norm
}

// Validate ensures configured policy entries do not conflict.
func (c SourcePolicyConfig) Validate() error {
	norm := c.Normalize()
	allow := make(map[string]struct{}, len(norm.Allow))
	for _, host := range norm.Allow {
		allow[host] = struct{}{}
	}
	for _, host := range norm.Disallow {
		if _, ok := allow[host]; ok {
			return fmt.Errorf("source policy conflict: host %q present in both allow and disallow lists", host)
		}
	}
	return nil
}

// Permits reports whether a candidate from host may be ingested.
func (c SourcePolicyConfig) Permits(host string) bool {
	host = NormalizeHost(host)
	if host == "" {
		return false
	}
	for _, blocked := range c.Disallow {
		if matchesDomain(host, blocked) {
			return false
		}
	}
	if len(c.Allow) == 0 {
		return true
	}
	for _, allowed := range c.Allow {
		if matchesDomain(host, allowed) {
			return true
		}
	}
	return false
}

// matchesDomain matches host against domain or any of its subdomains.
func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func sanitizeDomainList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		host := NormalizeHost(raw)
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}

// NormalizeHost lowercases a host or URL and strips scheme and "www.".
func NormalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(u.Hostname(), "www.")
		}
	}
	return strings.TrimPrefix(value, "www.")
}
