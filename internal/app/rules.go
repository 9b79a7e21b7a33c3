package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"grouper-dispatcher/internal/routing"
)

// CheckRules parses the rule file the way a reload does and writes one row
// per rule to out.
func CheckRules(path, ingressQueue string, out io.Writer) error {
	rules, err := routing.LoadRules(path, ingressQueue)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tGROUP\tQUEUE\tOPERATIONS\tFORMAT")
	for _, rule := range rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rule.Kind, rule.GroupPattern, rule.TargetQueue, operations(rule), rule.Format)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	state := routing.NewState(rules)
	fmt.Fprintf(out, "\n%d rules, target queues: %v\n", len(rules), state.Queues())
	return nil
}

func operations(rule *routing.Rule) string {
	if rule.AnyOperation {
		return "*"
	}
	return strings.Join(rule.Operations, ",")
}
