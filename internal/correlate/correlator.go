// Package correlate matches a ticket key against code-host changes.
//
// Rules run in a fixed order and the first rule with any match wins:
//
//  1. the key appears as a token in the branch name
//  2. the key appears as a token in the change title
//  3. the key appears as a token in any commit message of the change
//
// Matching is case-insensitive. A token boundary is the start or end of the
// text or any byte that is not an ASCII letter or digit, so PROJ-123 does not
// match PROJ-1234 or XPROJ-123.
package correlate

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/qaflow/internal/logging"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
	"github.com/fyrsmithlabs/qaflow/internal/resilience"
)

// Rule names reported in Result.Rule.
const (
	RuleBranch        = "branch"
	RuleTitle         = "title"
	RuleCommitMessage = "commit_message"
)

// maxHydrations bounds concurrent GetChange calls when loading commits.
const maxHydrations = 4

var keyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*-[0-9]+$`)

// ValidateKey rejects identifiers that are not of the form PROJECT-123.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return qa.InvalidInput("correlate.validate_key", "ticket key %q does not match PROJECT-NUMBER", key)
	}
	return nil
}

// Result is the outcome of a correlation. An empty result is the normal
// NoLinkedChange outcome, not an error.
type Result struct {
	Rule    string          `json:"rule,omitempty"`
	Changes []qa.CodeChange `json:"changes"`
}

// Linked reports whether any change matched.
func (r Result) Linked() bool {
	return len(r.Changes) > 0
}

// ContainsToken reports whether key occurs in text on token boundaries,
// ignoring case.
func ContainsToken(text, key string) bool {
	if key == "" {
		return false
	}
	haystack := strings.ToLower(text)
	needle := strings.ToLower(key)

	for offset := 0; offset <= len(haystack)-len(needle); {
		i := strings.Index(haystack[offset:], needle)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(needle)
		if (start == 0 || !isWordByte(haystack[start-1])) &&
			(end == len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

type rule struct {
	name  string
	match func(key string, c qa.CodeChange) bool
}

var rules = []rule{
	{RuleBranch, func(key string, c qa.CodeChange) bool { return ContainsToken(c.Branch, key) }},
	{RuleTitle, func(key string, c qa.CodeChange) bool { return ContainsToken(c.Title, key) }},
	{RuleCommitMessage, func(key string, c qa.CodeChange) bool {
		for _, commit := range c.Commits {
			if ContainsToken(commit.Message, key) {
				return true
			}
		}
		return false
	}},
}

// FindMatches applies the rules to candidates and returns every change
// matching the first rule that matches anything, most recent activity first.
func FindMatches(key string, candidates []qa.CodeChange) Result {
	return findMatches(key, candidates, rules)
}

func findMatches(key string, candidates []qa.CodeChange, ordered []rule) Result {
	for _, r := range ordered {
		var matched []qa.CodeChange
		for _, c := range candidates {
			if r.match(key, c) {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			sortByActivity(matched)
			return Result{Rule: r.name, Changes: matched}
		}
	}
	return Result{Changes: []qa.CodeChange{}}
}

func sortByActivity(changes []qa.CodeChange) {
	sort.SliceStable(changes, func(i, j int) bool {
		ai, aj := changes[i].LastActivity(), changes[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return changes[i].ID < changes[j].ID
	})
}

// Correlator runs the rules against candidates fetched from a code host.
type Correlator struct {
	codehost qa.CodeHostPort
	policy   resilience.Policy
}

// New creates a Correlator.
func New(codehost qa.CodeHostPort, policy resilience.Policy) *Correlator {
	return &Correlator{codehost: codehost, policy: policy}
}

// Correlate finds the changes linked to key. When repositories is non-empty,
// candidates outside those repositories are ignored.
//
// Candidates returned by the search without commits are hydrated with
// GetChange only when the branch and title rules find nothing, so the common
// case costs a single code-host call.
func (c *Correlator) Correlate(ctx context.Context, key string, repositories []string) (Result, error) {
	if err := ValidateKey(key); err != nil {
		return Result{}, err
	}

	candidates, err := resilience.Call(ctx, c.policy, "codehost.find_changes", func(ctx context.Context) ([]qa.CodeChange, error) {
		return c.codehost.FindChangesReferencing(ctx, key)
	})
	if err != nil {
		return Result{}, err
	}
	candidates = filterRepositories(candidates, repositories)

	if res := findMatches(key, candidates, rules[:2]); res.Linked() {
		return res, nil
	}

	hydrated, err := c.hydrate(ctx, candidates)
	if err != nil {
		return Result{}, err
	}
	res := findMatches(key, hydrated, rules[2:])

	logging.FromContext(ctx).Debug(ctx, "correlation finished",
		zap.String("ticket", key),
		zap.Int("candidates", len(candidates)),
		zap.String("rule", res.Rule),
		zap.Int("matches", len(res.Changes)),
	)
	return res, nil
}

// hydrate loads commits for candidates that arrived without them. Changes
// that disappeared in the meantime are dropped.
func (c *Correlator) hydrate(ctx context.Context, candidates []qa.CodeChange) ([]qa.CodeChange, error) {
	out := make([]qa.CodeChange, len(candidates))
	gone := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxHydrations)
	for i, cand := range candidates {
		if len(cand.Commits) > 0 {
			out[i] = cand
			continue
		}
		g.Go(func() error {
			full, err := resilience.Call(gctx, c.policy, "codehost.get_change", func(ctx context.Context) (*qa.CodeChange, error) {
				return c.codehost.GetChange(ctx, cand.ID)
			})
			if qa.KindOf(err) == qa.KindNotFound {
				gone[i] = true
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = *full
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := out[:0]
	for i, ch := range out {
		if !gone[i] {
			kept = append(kept, ch)
		}
	}
	return kept, nil
}

func filterRepositories(changes []qa.CodeChange, repositories []string) []qa.CodeChange {
	if len(repositories) == 0 {
		return changes
	}
	allowed := make(map[string]bool, len(repositories))
	for _, r := range repositories {
		allowed[strings.ToLower(r)] = true
	}
	var out []qa.CodeChange
	for _, ch := range changes {
		if allowed[strings.ToLower(ch.Repository)] {
			out = append(out, ch)
		}
	}
	return out
}
