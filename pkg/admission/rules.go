package admission

import (
	"strings"

	"github.com/always-cache/forward-proxy/pkg/target"
	"github.com/rs/zerolog/log"
)

// Rules is an ordered rule list. The first matching rule decides.
type Rules []Rule

// Rule matches targets by host and path. Empty fields match anything.
type Rule struct {
	Host   string `yaml:"host"`
	Port   string `yaml:"port"`
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
	// Store decides whether responses for matching targets may be cached.
	Store bool `yaml:"store"`
}

// Admit returns whether a response for the given target may be stored.
// Targets not matched by any rule are admitted.
func (r Rules) Admit(t target.Target) bool {
	if rule := r.find(t); rule != nil {
		log.Trace().Str("host", t.Hostname).Str("path", t.Path).Bool("store", rule.Store).Msg("Admission rule matched")
		return rule.Store
	}
	return true
}

func (r Rules) find(t target.Target) *Rule {
	for i := range r {
		rule := &r[i]
		if rule.Host != "" && !strings.EqualFold(rule.Host, t.Hostname) {
			continue
		}
		if rule.Port != "" && rule.Port != t.Port {
			continue
		}
		if rule.Path != "" && rule.Path != t.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(t.Path, rule.Prefix) {
			continue
		}
		return rule
	}
	return nil
}
