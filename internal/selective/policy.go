// Package selective implements marking-policy evaluation and the
// per-window state machine that decides whether a filled detail ring
// is persisted or discarded.
package selective

import (
	"regexp"
	"strings"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/adatrace/tracer/internal/logging"
)

// Target selects which field of an event a Rule is matched against.
type Target int

const (
	// TargetSymbol matches against the (optionally module-qualified)
	// symbol name of the traced call.
	TargetSymbol Target = iota
	// TargetMessage matches against a log-style message payload.
	TargetMessage
)

// RuleSpec is the user-facing description of one marking rule, as
// parsed from configuration.
type RuleSpec struct {
	Target        Target
	Pattern       string
	CaseSensitive bool
	Regex         bool
}

// rule is a compiled RuleSpec: either a regexp or, if compilation
// failed or Regex was false, a literal substring match.
type rule struct {
	target        Target
	pattern       string
	caseSensitive bool
	re            *regexp.Regexp
}

func (r *rule) matches(s string) bool {
	if !r.caseSensitive {
		s = strings.ToLower(s)
	}
	if r.re != nil {
		return r.re.MatchString(s)
	}
	return strings.Contains(s, r.pattern)
}

// MarkingPolicy holds the compiled set of rules an event is evaluated
// against to decide whether it marks the current window for
// persistence.
type MarkingPolicy struct {
	rules   []*rule
	limiter *catrate.Limiter
	logger  *logging.Logger
}

// NewMarkingPolicy compiles specs into a MarkingPolicy. A regex spec
// whose pattern fails to compile is downgraded to a literal match on
// the same pattern string, with a rate-limited warning rather than a
// hard failure, matching the original implementation's documented
// fallback.
func NewMarkingPolicy(specs []RuleSpec, logger *logging.Logger) *MarkingPolicy {
	if logger == nil {
		logger = logging.Default()
	}
	p := &MarkingPolicy{
		limiter: catrate.NewLimiter(map[time.Duration]int{time.Minute: 1}),
		logger:  logger,
	}
	for _, spec := range specs {
		p.rules = append(p.rules, p.compile(spec))
	}
	return p
}

func (p *MarkingPolicy) compile(spec RuleSpec) *rule {
	pattern := spec.Pattern
	if !spec.CaseSensitive {
		pattern = strings.ToLower(pattern)
	}
	r := &rule{target: spec.Target, pattern: pattern, caseSensitive: spec.CaseSensitive}
	if !spec.Regex {
		return r
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		if _, allowed := p.limiter.Allow("regex-compile-failure"); allowed {
			p.logger.Warnf("selective: regex %q failed to compile, falling back to literal match: %v", spec.Pattern, err)
		}
		return r
	}
	r.re = compiled
	return r
}

// Matches reports whether symbol or message matches any rule scoped
// to the corresponding target.
func (p *MarkingPolicy) Matches(symbol, message string) bool {
	for _, r := range p.rules {
		switch r.target {
		case TargetSymbol:
			if symbol != "" && r.matches(symbol) {
				return true
			}
		case TargetMessage:
			if message != "" && r.matches(message) {
				return true
			}
		}
	}
	return false
}

// RuleCount returns the number of compiled rules, for diagnostics.
func (p *MarkingPolicy) RuleCount() int {
	return len(p.rules)
}
