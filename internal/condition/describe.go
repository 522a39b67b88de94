package condition

import (
	"fmt"
	"strings"
)

// Describe renders a condition tree as a compact single-line expression,
// e.g. `and(word hi, probability 50%)`.
func Describe(c Condition) string {
	switch v := c.(type) {
	case nil:
		return "<nil>"
	case *And:
		return string(KindAnd) + "(" + describeAll(v.Conditions) + ")"
	case *Or:
		return string(KindOr) + "(" + describeAll(v.Conditions) + ")"
	case *Not:
		return string(KindNot) + "(" + Describe(v.Condition) + ")"
	case *OneOf:
		parts := make([]string, len(v.Options))
		for i, opt := range v.Options {
			name := fmt.Sprintf("#%d", i)
			if i < len(v.Names) && v.Names[i] != "" {
				name = v.Names[i]
			}
			parts[i] = name + "=" + Describe(opt)
		}
		return string(KindOneOf) + "(" + strings.Join(parts, ", ") + ")"
	case fmt.Stringer:
		return v.String()
	default:
		return string(c.Kind())
	}
}

func describeAll(conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = Describe(c)
	}
	return strings.Join(parts, ", ")
}
