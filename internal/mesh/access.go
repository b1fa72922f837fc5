package mesh

import "github.com/dorkos/dorkos/internal/relay"

// AccessChecker implements relay.AccessChecker over a Mesh Registry's
// access rules, gating cross-namespace Relay publishes the way the
// teacher's config.AgentBinding/BindingMatch gates which agent a channel
// message reaches — generalized here from "match a channel+peer pattern to
// one agent ID" to "match a from/to namespace pair against allow/deny
// rules", with "*" as the wildcard namespace on either side.
type AccessChecker struct {
	Registry *Registry
}

var _ relay.AccessChecker = AccessChecker{}

// Allow reports whether a publish from the "from" namespace may reach an
// endpoint whose subject resolves to the "to" namespace. No matching rule
// defaults to allow (spec §4.10: access rules are an explicit denylist
// overlay, not a default-deny allowlist).
func (a AccessChecker) Allow(from, subject string) bool {
	if a.Registry == nil {
		return true
	}
	to := Manifest{DisplayName: subject}.Namespace()
	rules, err := a.Registry.AccessRules()
	if err != nil {
		return true
	}
	allowed := true
	for _, rule := range rules {
		if !namespaceMatches(rule.From, from) || !namespaceMatches(rule.To, to) {
			continue
		}
		if rule.Action == "deny" {
			allowed = false
		} else if rule.Action == "allow" {
			allowed = true
		}
	}
	return allowed
}

func namespaceMatches(pattern, ns string) bool {
	return pattern == "*" || pattern == ns
}
