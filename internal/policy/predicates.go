package policy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Predicate evaluates one constraint. It reports whether the constraint is
// violated and a short detail used when the constraint has no message. A
// non-nil error means the constraint itself is malformed; the engine counts
// that as a violation.
type Predicate func(c Constraint, f Facts) (violated bool, detail string, err error)

// Canonical predicate names.
const (
	PredRatioCheck      = "ratio_check"
	PredPatternMatch    = "pattern_match"
	PredCountCheck      = "count_check"
	PredInequalityCheck = "inequality_check"
	PredComparison      = "comparison"
)

var predicates = map[string]Predicate{
	PredRatioCheck:      ratioCheck,
	PredPatternMatch:    patternMatch,
	PredCountCheck:      countCheck,
	PredInequalityCheck: inequalityCheck,
	PredComparison:      comparison,
}

// aliases maps names found in older seeds to canonical predicates.
var aliases = map[string]string{
	"cyrillic_ratio": PredRatioCheck,
	"regex_match":    PredPatternMatch,
	"node_count":     PredCountCheck,
	"not_equals":     PredInequalityCheck,
	"compare":        PredComparison,
}

// Canonical resolves an alias to its canonical predicate name.
func Canonical(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// Lookup returns the predicate for a (possibly aliased) name.
func Lookup(name string) (Predicate, bool) {
	p, ok := predicates[Canonical(name)]
	return p, ok
}

// Predicates returns the canonical predicate names.
func Predicates() []string {
	return []string{PredComparison, PredCountCheck, PredInequalityCheck, PredPatternMatch, PredRatioCheck}
}

// ─── Operators ──────────────────────────────────────────────────────────────

var validOperators = map[string]bool{">=": true, "<=": true, "==": true, "!=": true, ">": true, "<": true}

// ValidateOperator checks that op is one of the supported comparisons.
func ValidateOperator(op string) error {
	if !validOperators[op] {
		return fmt.Errorf("invalid operator %q: must be one of >=, <=, ==, !=, >, <", op)
	}
	return nil
}

func compare(a float64, op string, b float64) (bool, error) {
	switch op {
	case ">=":
		return a >= b, nil
	case "<=":
		return a <= b, nil
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case ">":
		return a > b, nil
	case "<":
		return a < b, nil
	}
	return false, ValidateOperator(op)
}

// ─── Predicates ─────────────────────────────────────────────────────────────

var charClasses = map[string]func(rune) bool{
	"cyrillic": func(r rune) bool { return r >= 'Ѐ' && r <= 'ӿ' },
	"latin":    func(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') },
	"digit":    unicode.IsDigit,
}

// ratioCheck requires the share of a character class to satisfy the
// operator. Empty text has ratio 0.
func ratioCheck(c Constraint, f Facts) (bool, string, error) {
	class := c.CharClass
	if class == "" {
		class = "cyrillic"
	}
	in, ok := charClasses[class]
	if !ok {
		return true, "", fmt.Errorf("unknown char_class %q", class)
	}
	op := c.Operator
	if op == "" {
		op = ">="
	}

	total := utf8.RuneCountInString(f.Text)
	ratio := 0.0
	if total > 0 {
		matched := 0
		for _, r := range f.Text {
			if in(r) {
				matched++
			}
		}
		ratio = float64(matched) / float64(total)
	}

	ok, err := compare(ratio, op, c.Threshold)
	if err != nil {
		return true, "", err
	}
	return !ok, fmt.Sprintf("%s ratio %.2f, required %s %.2f", class, ratio, op, c.Threshold), nil
}

// patternMatch forbids text matching the pattern.
func patternMatch(c Constraint, f Facts) (bool, string, error) {
	if c.Pattern == "" {
		return false, "", nil
	}
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return true, "", fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
	}
	if loc := re.FindStringIndex(f.Text); loc != nil {
		return true, fmt.Sprintf("forbidden pattern %q found: %q", c.Pattern, f.Text[loc[0]:loc[1]]), nil
	}
	return false, "", nil
}

// countCheck limits instances of target_label. It applies only when the
// operation creates that type; the violation fires when the comparison holds.
func countCheck(c Constraint, f Facts) (bool, string, error) {
	if c.TargetLabel == "" || f.TargetType != c.TargetLabel {
		return false, "", nil
	}
	hit, err := compare(float64(f.TargetCount), c.Operator, c.Threshold)
	if err != nil {
		return true, "", err
	}
	return hit, fmt.Sprintf("%d %s node(s) already exist, limit reached (%s %g)", f.TargetCount, c.TargetLabel, c.Operator, c.Threshold), nil
}

// inequalityCheck forbids an operation whose candidate equals the current
// node, such as linking a node to itself.
func inequalityCheck(_ Constraint, f Facts) (bool, string, error) {
	if f.CurrentUID == "" || f.CandidateUID == "" {
		return false, "", nil
	}
	if f.CurrentUID == f.CandidateUID {
		return true, fmt.Sprintf("%s cannot target itself", f.CurrentUID), nil
	}
	return false, "", nil
}

// comparison checks a numeric text metric against the threshold.
func comparison(c Constraint, f Facts) (bool, string, error) {
	var value float64
	switch c.Metric {
	case "", "text_length":
		value = float64(utf8.RuneCountInString(strings.TrimSpace(f.Text)))
	case "word_count":
		value = float64(len(strings.Fields(f.Text)))
	default:
		return true, "", fmt.Errorf("unknown metric %q", c.Metric)
	}
	metric := c.Metric
	if metric == "" {
		metric = "text_length"
	}
	ok, err := compare(value, c.Operator, c.Threshold)
	if err != nil {
		return true, "", err
	}
	return !ok, fmt.Sprintf("%s is %g, required %s %g", metric, value, c.Operator, c.Threshold), nil
}
