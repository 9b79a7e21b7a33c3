package routing

import (
	"fmt"
	"strings"

	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/envelope"
)

// Kind tells whether a rule grants or vetoes delivery.
type Kind int

const (
	Include Kind = iota
	Exclude
)

func (k Kind) String() string {
	if k == Include {
		return "include"
	}
	return "exclude"
}

const (
	ruleFields   = 5
	anyOperation = "*"
	includeToken = "+"
)

// Rule is one parsed line of the routing file.
type Rule struct {
	Kind         Kind
	GroupPattern string
	TargetQueue  string
	Operations   []string
	AnyOperation bool
	Format       envelope.Format
}

// ParseRule parses kind|groupPattern|targetQueue|operations|format. Rules
// whose queue is ingressQueue are rejected so the dispatcher never feeds
// itself.
func ParseRule(line, ingressQueue string) (*Rule, error) {
	parts := strings.Split(line, "|")
	if len(parts) != ruleFields {
		return nil, ruleError(line, ErrMalformedRule)
	}

	rule, err := NewRule(parts[0], parts[1], parts[2], parts[3], parts[4])
	if err != nil {
		return nil, ruleError(line, err)
	}

	if ingressQueue != "" && strings.EqualFold(rule.TargetQueue, strings.TrimSpace(ingressQueue)) {
		return nil, ruleError(line, ErrSelfLoop)
	}
	return rule, nil
}

// NewRule validates and normalizes the five rule fields.
func NewRule(kind, groupPattern, targetQueue, operations, format string) (*Rule, error) {
	rule := &Rule{
		Kind:         Exclude,
		GroupPattern: strings.ToLower(strings.TrimSpace(groupPattern)),
		TargetQueue:  strings.TrimSpace(targetQueue),
	}
	if strings.TrimSpace(kind) == includeToken {
		rule.Kind = Include
	}

	if rule.GroupPattern == "" {
		return nil, ErrEmptyPattern
	}
	if rule.TargetQueue == "" {
		return nil, ErrEmptyQueue
	}

	ops := strings.TrimSpace(operations)
	if ops == "" {
		return nil, ErrEmptyOperations
	}
	if ops == anyOperation {
		rule.AnyOperation = true
	} else {
		for _, token := range strings.Split(ops, ",") {
			op := strings.ToLower(strings.TrimSpace(token))
			if !envelope.IsValidOperation(op) {
				return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, token)
			}
			rule.Operations = append(rule.Operations, op)
		}
	}

	f, err := envelope.ParseFormat(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	rule.Format = f

	return rule, nil
}

func ruleError(line string, cause error) error {
	return errors.ConfigError(fmt.Sprintf("bad rule line %q", line), cause).WithContext("line", line)
}

// IsInclude reports whether the rule grants delivery.
func (r *Rule) IsInclude() bool {
	return r.Kind == Include
}

// Permits reports whether operation is allowed by the rule, ignoring case.
func (r *Rule) Permits(operation string) bool {
	if r.AnyOperation {
		return true
	}
	op := strings.ToLower(strings.TrimSpace(operation))
	for _, allowed := range r.Operations {
		if allowed == op {
			return true
		}
	}
	return false
}

// MatchesGroup applies the pattern to a group or stem name: "*" matches every
// name, a pattern containing "*" matches names starting with the text before
// the first "*", any other pattern must equal the name ignoring case.
func (r *Rule) MatchesGroup(group string) bool {
	if r.GroupPattern == Wildcard {
		return true
	}
	if idx := strings.Index(r.GroupPattern, Wildcard); idx >= 0 {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(group)), r.GroupPattern[:idx])
	}
	return strings.EqualFold(r.GroupPattern, strings.TrimSpace(group))
}

// Path returns the trie key of the rule: queue segments followed by pattern
// segments, all lowercase.
func (r *Rule) Path() []string {
	return routePath(r.TargetQueue, r.GroupPattern)
}

func routePath(queue, group string) []string {
	return strings.Split(strings.ToLower(queue)+":"+strings.ToLower(strings.TrimSpace(group)), ":")
}

func (r *Rule) String() string {
	ops := anyOperation
	if !r.AnyOperation {
		ops = strings.Join(r.Operations, ",")
	}
	return fmt.Sprintf("%s group: %s\t queue: %s\t operations: %s\t format: %s",
		r.Kind, r.GroupPattern, r.TargetQueue, ops, r.Format)
}
