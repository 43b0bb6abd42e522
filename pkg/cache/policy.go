package cache

import (
	"strings"
	"time"
)

// DefaultTTL is the fallback TTL for endpoints no rule matches.
const DefaultTTL = 30 * time.Second

// Matcher reports whether a rule applies to a normalized endpoint.
type Matcher func(endpoint string) bool

// Exact matches one endpoint.
func Exact(endpoint string) Matcher {
	want := NormalizeEndpoint(endpoint)
	return func(endpoint string) bool {
		return endpoint == want
	}
}

// Prefix matches every endpoint starting with prefix.
func Prefix(prefix string) Matcher {
	want := NormalizeEndpoint(prefix)
	return func(endpoint string) bool {
		return strings.HasPrefix(endpoint, want)
	}
}

// Rule maps matching endpoints to a caching decision.
type Rule struct {
	// Name shows up in logs, optional
	Name string

	Match Matcher

	// TTL for matching endpoints. Zero stores without expiry.
	TTL time.Duration

	// Disabled endpoints never populate the cache and always miss.
	Disabled bool
}

// Decision is the caching rule resolved for one endpoint.
type Decision struct {
	TTL      time.Duration
	Disabled bool
	Rule     string
}

// ShouldCache returns true if the endpoint may be cached.
func (d Decision) ShouldCache() bool {
	return !d.Disabled
}

// EffectiveTTL returns override when positive, else the rule TTL.
func (d Decision) EffectiveTTL(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return d.TTL
}

// Policy is an ordered rule list evaluated first-match.
type Policy struct {
	Rules []Rule

	// DefaultTTL applies when no rule matches.
	DefaultTTL time.Duration
}

// DefaultPolicy returns a policy with no rules and DefaultTTL.
func DefaultPolicy() Policy {
	return Policy{DefaultTTL: DefaultTTL}
}

// Resolve returns the decision of the first matching rule, or the default.
func (p Policy) Resolve(endpoint string) Decision {
	endpoint = NormalizeEndpoint(endpoint)
	for _, r := range p.Rules {
		if r.Match != nil && r.Match(endpoint) {
			return Decision{TTL: r.TTL, Disabled: r.Disabled, Rule: r.Name}
		}
	}

	ttl := p.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Decision{TTL: ttl, Rule: "default"}
}

// With returns a copy of p with rules appended after the existing ones.
func (p Policy) With(rules ...Rule) Policy {
	out := Policy{DefaultTTL: p.DefaultTTL}
	out.Rules = append(append(out.Rules, p.Rules...), rules...)
	return out
}
