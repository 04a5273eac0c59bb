// internal/monitoring/condition.go
package monitoring

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var conditionPattern = regexp.MustCompile(`^\s*([A-Za-z_][\w.]*)\s*(>=|<=|==|!=|>|<)\s*(-?[\d.]+)\s*$`)

var comparators = map[string]func(actual, threshold float64) bool{
	">":  func(a, t float64) bool { return a > t },
	"<":  func(a, t float64) bool { return a < t },
	">=": func(a, t float64) bool { return a >= t },
	"<=": func(a, t float64) bool { return a <= t },
	"==": func(a, t float64) bool { return a == t },
	"!=": func(a, t float64) bool { return a != t },
}

// ParseCondition compiles "field op number" clauses joined by "&&" or "||"
// into a condition. "&&" binds tighter than "||". A clause whose field is
// missing or not numeric is false.
func ParseCondition(expr string) (func(AlertContext) bool, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty condition")
	}

	var groups [][]func(AlertContext) bool
	for _, disjunct := range strings.Split(expr, "||") {
		var all []func(AlertContext) bool
		for _, clause := range strings.Split(disjunct, "&&") {
			c, err := parseClause(clause)
			if err != nil {
				return nil, err
			}
			all = append(all, c)
		}
		groups = append(groups, all)
	}

	return func(ctx AlertContext) bool {
		for _, all := range groups {
			ok := true
			for _, c := range all {
				if !c(ctx) {
					ok = false
					break
				}
			}
			if ok {
				return true
			}
		}
		return false
	}, nil
}

func parseClause(clause string) (func(AlertContext) bool, error) {
	m := conditionPattern.FindStringSubmatch(clause)
	if m == nil {
		return nil, fmt.Errorf("invalid condition %q", strings.TrimSpace(clause))
	}
	field, op := m[1], m[2]
	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold in %q: %w", strings.TrimSpace(clause), err)
	}
	cmp := comparators[op]

	return func(ctx AlertContext) bool {
		actual, ok := ctx.Float(field)
		if !ok {
			return false
		}
		return cmp(actual, threshold)
	}, nil
}
