package dedupe

import (
	"strings"
	"unicode/utf8"
)

// Rule names the step of the field policy that decided a value.
type Rule string

// Field policy rules, in evaluation order.
const (
	RuleFillEmpty      Rule = "fill_empty"
	RuleKeepNonEmpty   Rule = "keep_non_empty"
	RuleBothEmpty      Rule = "both_empty"
	RuleEqual          Rule = "equal"
	RuleSourcePriority Rule = "source_priority"
	RuleLonger         Rule = "longer_value"
	RuleTieKeep        Rule = "tie_keeps_existing"
)

// Priorities ranks source tags. Unknown tags rank 0.
type Priorities map[string]int

// DefaultPriorities ranks manual entry over Google over Yelp.
func DefaultPriorities() Priorities {
	return Priorities{"manual": 3, "google": 2, "yelp": 1}
}

// NewPriorities copies m with normalized keys. An empty m yields the defaults.
func NewPriorities(m map[string]int) Priorities {
	if len(m) == 0 {
		return DefaultPriorities()
	}
	p := make(Priorities, len(m))
	for k, v := range m {
		p[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return p
}

// Of returns the priority of a single tag.
func (p Priorities) Of(tag string) int {
	return p[tag]
}

// OfSet returns the highest priority of any tag in a comma-joined source set.
func (p Priorities) OfSet(set string) int {
	best := 0
	for _, tag := range SplitSources(set) {
		if v := p.Of(tag); v > best {
			best = v
		}
	}
	return best
}

// Resolution is the value chosen for one field and the rule that chose it.
type Resolution struct {
	Value string
	Rule  Rule
}

// FieldResolver applies the field conflict policy with a fixed priority table.
type FieldResolver struct {
	priorities Priorities
}

// NewFieldResolver returns a resolver over p.
func NewFieldResolver(p Priorities) *FieldResolver {
	if p == nil {
		p = DefaultPriorities()
	}
	return &FieldResolver{priorities: p}
}

// ResolveField picks between the stored value and an incoming one. The
// existing side's priority is the best priority in existingSet.
func (r *FieldResolver) ResolveField(existing, incoming, incomingSource, existingSet string) Resolution {
	ex := strings.TrimSpace(existing)
	in := strings.TrimSpace(incoming)

	switch {
	case ex == "" && in != "":
		return Resolution{Value: in, Rule: RuleFillEmpty}
	case in == "" && ex != "":
		return Resolution{Value: existing, Rule: RuleKeepNonEmpty}
	case ex == "" && in == "":
		return Resolution{Value: existing, Rule: RuleBothEmpty}
	case strings.EqualFold(ex, in):
		return Resolution{Value: existing, Rule: RuleEqual}
	}

	inPrio := r.priorities.Of(incomingSource)
	exPrio := r.priorities.OfSet(existingSet)
	switch {
	case inPrio > exPrio:
		return Resolution{Value: in, Rule: RuleSourcePriority}
	case exPrio > inPrio:
		return Resolution{Value: existing, Rule: RuleSourcePriority}
	}

	if utf8.RuneCountInString(in) > utf8.RuneCountInString(ex) {
		return Resolution{Value: in, Rule: RuleLonger}
	}
	if utf8.RuneCountInString(ex) > utf8.RuneCountInString(in) {
		return Resolution{Value: existing, Rule: RuleLonger}
	}
	return Resolution{Value: existing, Rule: RuleTieKeep}
}
