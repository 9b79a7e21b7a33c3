package routing

import (
	"sort"
	"strings"
)

// State is an immutable routing snapshot. Include rules keep file order in a
// flat list; both include and exclude rules are indexed by queue and pattern
// segments in their own trie. Exclude rules are also listed per lowercase
// target queue.
type State struct {
	rules    []*Rule
	include  *Trie
	exclude  *Trie
	excludes map[string][]*Rule
	queues   []string
}

// NewState builds a snapshot from parsed rules.
func NewState(rules []*Rule) *State {
	s := &State{
		include:  NewTrie(),
		exclude:  NewTrie(),
		excludes: make(map[string][]*Rule),
	}

	seen := make(map[string]bool)
	for _, rule := range rules {
		if !rule.IsInclude() {
			s.exclude.InsertPath(rule.Path())
			queue := strings.ToLower(rule.TargetQueue)
			s.excludes[queue] = append(s.excludes[queue], rule)
			continue
		}
		s.rules = append(s.rules, rule)
		s.include.InsertPath(rule.Path())
		if !seen[rule.TargetQueue] {
			seen[rule.TargetQueue] = true
			s.queues = append(s.queues, rule.TargetQueue)
		}
	}
	sort.Strings(s.queues)
	return s
}

// Rules returns the include rules in file order.
func (s *State) Rules() []*Rule {
	return s.rules
}

// Queues returns the distinct target queues of the include rules.
func (s *State) Queues() []string {
	return s.queues
}

// Match returns the include rules that apply to an event on group with the
// given operation, in file order.
//
// A rule applies when its pattern matches the group, it permits the operation,
// and no exclude rule registered for the same queue is at least as specific
// for this group. A path that ends on a trailing wildcard scores -1 in both
// tries; when neither trie scores the path, the rule is vetoed if an exclude
// rule for its queue matches the group by pattern.
func (s *State) Match(group, operation string) []*Rule {
	var matched []*Rule
	for _, rule := range s.rules {
		if !rule.MatchesGroup(group) || !rule.Permits(operation) {
			continue
		}
		if s.vetoed(rule, group) {
			continue
		}
		matched = append(matched, rule)
	}
	return matched
}

func (s *State) vetoed(rule *Rule, group string) bool {
	path := routePath(rule.TargetQueue, group)
	excludeDepth := Specificity(s.exclude, path)
	includeDepth := Specificity(s.include, path)
	if excludeDepth >= 0 {
		return excludeDepth >= includeDepth
	}
	if includeDepth >= 0 {
		return false
	}
	for _, exclude := range s.excludes[strings.ToLower(rule.TargetQueue)] {
		if exclude.MatchesGroup(group) {
			return true
		}
	}
	return false
}
