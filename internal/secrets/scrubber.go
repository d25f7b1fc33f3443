package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/qaflow/internal/config"
)

// DefaultRedaction replaces each detected credential.
const DefaultRedaction = "[REDACTED]"

// Config configures a Scrubber.
type Config struct {
	Enabled   bool
	Rules     []Rule
	Redaction string

	// AllowList holds patterns for matches that must be kept, such as
	// documented example keys.
	AllowList []string
}

// DefaultConfig enables the default rules.
func DefaultConfig() Config {
	return Config{Enabled: true, Rules: DefaultRules(), Redaction: DefaultRedaction}
}

// FromConfig converts the secrets section. Extra rules run after the
// defaults.
func FromConfig(c config.SecretsConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.AllowList = c.AllowList
	for _, r := range c.Rules {
		cfg.Rules = append(cfg.Rules, Rule{ID: r.ID, Pattern: r.Pattern, Keywords: r.Keywords})
	}
	return cfg
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// Scrubber redacts credentials. A nil Scrubber returns text unchanged.
type Scrubber struct {
	redaction string
	rules     []compiledRule
	allow     []*regexp.Regexp
}

// New compiles cfg. A disabled config yields a nil Scrubber.
func New(cfg Config) (*Scrubber, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	s := &Scrubber{redaction: cfg.Redaction}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}

	seen := make(map[string]bool, len(cfg.Rules))
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		keywords := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			keywords[j] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, pattern: re, keywords: keywords})
	}

	for _, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow list pattern %q: %w", p, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// Finding locates one redacted credential. The value itself is never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
}

// Result is scrubbed text and what was removed from it.
type Result struct {
	Text     string    `json:"text"`
	Findings []Finding `json:"findings,omitempty"`
}

// Redacted reports whether anything was removed.
func (r Result) Redacted() bool { return len(r.Findings) > 0 }

// RuleIDs returns the distinct rules that matched, sorted.
func (r Result) RuleIDs() []string {
	set := make(map[string]bool)
	for _, f := range r.Findings {
		set[f.RuleID] = true
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type span struct{ start, end int }

// Scrub replaces every match with the redaction string. Overlapping matches
// collapse into one redaction.
func (s *Scrubber) Scrub(text string) Result {
	if s == nil || text == "" {
		return Result{Text: text}
	}
	lower := strings.ToLower(text)

	var (
		spans    []span
		findings []Finding
	)
	for _, r := range s.rules {
		if !hasKeyword(lower, r.keywords) {
			continue
		}
		for _, m := range r.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			findings = append(findings, Finding{
				RuleID: r.id,
				Line:   strings.Count(text[:m[0]], "\n") + 1,
			})
		}
	}
	if len(spans) == 0 {
		return Result{Text: text}
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Line < findings[j].Line })
	return Result{Text: s.apply(text, merge(spans)), Findings: findings}
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func (s *Scrubber) apply(text string, spans []span) string {
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, sp := range spans {
		b.WriteString(text[prev:sp.start])
		b.WriteString(s.redaction)
		prev = sp.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping or touching ones.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}
