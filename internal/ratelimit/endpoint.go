package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is the access tier a request falls into for the endpoint limiter.
type Tier string

const (
	TierPublic Tier = "public"
	TierUser   Tier = "user"
	TierAdmin  Tier = "admin"
)

// TierLimits holds the optional per-tier request budgets for one rule. Zero
// means "no limit at this tier".
type TierLimits struct {
	Public int `yaml:"public"`
	User   int `yaml:"user"`
	Admin  int `yaml:"admin"`
}

func (t TierLimits) forTier(tier Tier) int {
	switch tier {
	case TierAdmin:
		return t.Admin
	case TierUser:
		return t.User
	default:
		return t.Public
	}
}

// Rule matches "METHOD /path". Method may be "*"; a path ending in "/*" is a
// prefix match, anything else is exact.
type Rule struct {
	Method string
	Path   string
	Limits TierLimits
}

// ParseRule parses a "METHOD /path" match expression.
func ParseRule(match string, limits TierLimits) (Rule, error) {
	parts := strings.Fields(match)
	if len(parts) != 2 {
		return Rule{}, fmt.Errorf("ratelimit: bad rule match %q, want \"METHOD /path\"", match)
	}
	return Rule{Method: strings.ToUpper(parts[0]), Path: parts[1], Limits: limits}, nil
}

func (r Rule) matches(method, path string) bool {
	if r.Method != "*" && r.Method != method {
		return false
	}
	if prefix, ok := strings.CutSuffix(r.Path, "/*"); ok {
		return strings.HasPrefix(path, prefix+"/") || path == prefix
	}
	return r.Path == path
}

// rulesFile is the YAML schema for an endpoint-rules file.
type rulesFile struct {
	Rules []struct {
		Match      string `yaml:"match"`
		TierLimits `yaml:",inline"`
	} `yaml:"rules"`
	Defaults TierLimits `yaml:"defaults"`
}

// LoadRules parses an endpoint-rules YAML document and returns the rule list
// plus the default tier limits (zero-valued when absent).
func LoadRules(data []byte) ([]Rule, TierLimits, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, TierLimits{}, fmt.Errorf("ratelimit: parse rules: %w", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		rule, err := ParseRule(r.Match, r.TierLimits)
		if err != nil {
			return nil, TierLimits{}, err
		}
		rules = append(rules, rule)
	}
	return rules, f.Defaults, nil
}

// EndpointConfig configures the tiered endpoint limiter.
type EndpointConfig struct {
	Rules    []Rule
	Defaults TierLimits
	Window   time.Duration
}

// EndpointLimiter applies first-match-wins tiered limits per endpoint. The
// bucket discriminator is (rule index, tier); requests matching no rule use
// the defaults discriminated by read-vs-mutation.
type EndpointLimiter struct {
	cfg  EndpointConfig
	win  *windowStore
	now  Clock
	stop chan struct{}
}

// EndpointOption configures an EndpointLimiter.
type EndpointOption func(*EndpointLimiter)

// WithEndpointClock injects a clock for tests.
func WithEndpointClock(now Clock) EndpointOption {
	return func(l *EndpointLimiter) { l.now = now }
}

// NewEndpoint creates the limiter and starts its sweeper.
func NewEndpoint(cfg EndpointConfig, opts ...EndpointOption) *EndpointLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l := &EndpointLimiter{
		cfg:  cfg,
		win:  newWindowStore(),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go sweeper(l.win, l.now, cfg.Window, 5*time.Minute, l.stop)
	return l
}

// Stop terminates the background sweeper.
func (l *EndpointLimiter) Stop() { close(l.stop) }

// Check applies the first matching rule's tier limit, or the defaults
// (read/mutation discriminated) when no rule matches.
func (l *EndpointLimiter) Check(clientKey, method, path string, tier Tier) Result {
	for i, rule := range l.cfg.Rules {
		if rule.matches(method, path) {
			key := clientKey + "|rule" + strconv.Itoa(i) + "|" + string(tier)
			return l.win.check(key, rule.Limits.forTier(tier), l.cfg.Window, l.now())
		}
	}
	key := clientKey + "|default|" + string(tier) + "|" + string(kindForMethod(method))
	return l.win.check(key, l.cfg.Defaults.forTier(tier), l.cfg.Window, l.now())
}
