package routing

import (
	"strings"
)

// Table is an ordered route list; the first rule whose prefix matches wins.
type Table struct {
	rules []*Rule
}

// NewTable compiles the given rule configs in order.
func NewTable(configs []RuleConfig) (*Table, error) {
	rules := make([]*Rule, 0, len(configs))
	for _, cfg := range configs {
		rule, err := compileRule(cfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return &Table{rules: rules}, nil
}

// Classify matches path against the table. Returns the first matching rule,
// or false when no prefix matches and the gateway should answer not-found
// itself.
func (t *Table) Classify(path string) (*Rule, bool) {
	for _, rule := range t.rules {
		if strings.HasPrefix(path, rule.pathPrefix) {
			return rule, true
		}
	}
	return nil, false
}

// Rules returns the compiled rules in match order.
func (t *Table) Rules() []*Rule {
	return t.rules
}
