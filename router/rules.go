package router

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Match is the result of evaluating one condition tree against a payload.
// Reasons carry a human-readable signal trail for observability; logic never
// depends on them.
type Match struct {
	Matched bool
	Reasons []string
}

// lookupPath walks a dot-separated path into a JSON value. Numeric segments
// index arrays. A missing segment resolves to nil.
func lookupPath(obj any, path string) any {
	cur := obj
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		switch node := cur.(type) {
		case map[string]any:
			cur = node[part]
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

func matchCondition(payload map[string]any, cond map[string]any) Match {
	op := strings.TrimSpace(stringify(cond["op"]))

	headers := LowerHeaders(payload["headers"])
	jsonBody, _ := payload["json"].(map[string]any)

	switch op {
	case "header_present":
		name := strings.ToLower(stringify(cond["name"]))
		if name != "" {
			if _, ok := headers[name]; ok {
				return Match{true, []string{"header_present:" + name}}
			}
		}
		return Match{false, []string{"missing_header:" + name}}

	case "header_equals":
		name := strings.ToLower(stringify(cond["name"]))
		expected := stringify(cond["value"])
		got, ok := headers[name]
		if ok && got == expected {
			return Match{true, []string{"header_equals:" + name}}
		}
		return Match{false, []string{"header_mismatch:" + name}}

	case "json_path_exists":
		path := stringify(cond["path"])
		if jsonBody != nil && lookupPath(jsonBody, path) != nil {
			return Match{true, []string{"json_path_exists:" + path}}
		}
		return Match{false, []string{"json_path_missing:" + path}}

	case "json_path_equals":
		path := stringify(cond["path"])
		var got any
		if jsonBody != nil {
			got = lookupPath(jsonBody, path)
		}
		if valuesEqual(got, cond["value"]) {
			return Match{true, []string{"json_path_equals:" + path}}
		}
		return Match{false, []string{"json_path_mismatch:" + path}}

	case "json_path_regex":
		path := stringify(cond["path"])
		pattern := stringify(cond["pattern"])
		var got any
		if jsonBody != nil {
			got = lookupPath(jsonBody, path)
		}
		if got != nil {
			re, err := regexp.Compile(pattern)
			if err == nil && re.MatchString(stringify(got)) {
				return Match{true, []string{"json_path_regex:" + path}}
			}
		}
		return Match{false, []string{"json_path_no_match:" + path}}
	}

	return Match{false, []string{"unknown_op:" + op}}
}

// valuesEqual compares a resolved JSON value with an expected one. JSON
// decoding yields float64 for every number, so numeric expectations are
// compared numerically.
func valuesEqual(got, expected any) bool {
	if got == nil || expected == nil {
		return got == nil && expected == nil
	}
	if gf, ok := asFloat(got); ok {
		if ef, ok := asFloat(expected); ok {
			return gf == ef
		}
		return false
	}
	switch g := got.(type) {
	case string:
		e, ok := expected.(string)
		return ok && g == e
	case bool:
		e, ok := expected.(bool)
		return ok && g == e
	}
	return fmt.Sprint(got) == fmt.Sprint(expected)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// EvaluateConditions evaluates a condition tree: a single {op: ...} object,
// an "all" conjunction (short-circuits on the first failure), or an "any"
// disjunction (evaluates every branch to accumulate reasons). Unknown
// operators and malformed trees evaluate to no-match with a diagnostic
// reason; evaluation never fails.
func EvaluateConditions(payload map[string]any, conditions map[string]any) Match {
	if branches, ok := conditions["all"].([]any); ok {
		reasons := []string{}
		for _, branch := range branches {
			cond, ok := branch.(map[string]any)
			if !ok {
				return Match{false, []string{"invalid_condition"}}
			}
			match := matchCondition(payload, cond)
			reasons = append(reasons, match.Reasons...)
			if !match.Matched {
				return Match{false, reasons}
			}
		}
		return Match{true, reasons}
	}

	if branches, ok := conditions["any"].([]any); ok {
		reasons := []string{}
		anyOK := false
		for _, branch := range branches {
			cond, ok := branch.(map[string]any)
			if !ok {
				continue
			}
			match := matchCondition(payload, cond)
			reasons = append(reasons, match.Reasons...)
			anyOK = anyOK || match.Matched
		}
		return Match{anyOK, reasons}
	}

	if _, ok := conditions["op"].(string); ok {
		return matchCondition(payload, conditions)
	}

	return Match{false, []string{"invalid_rule_conditions"}}
}

var supportedOps = map[string]struct{}{
	"header_present":   {},
	"header_equals":    {},
	"json_path_exists": {},
	"json_path_equals": {},
	"json_path_regex":  {},
}

// ValidateConditions rejects malformed condition trees at configuration-load
// time so broken rules are never applied silently. Runtime evaluation stays
// tolerant regardless.
func ValidateConditions(conditions map[string]any) error {
	if conditions == nil {
		return fmt.Errorf("router: conditions are required")
	}
	if branches, ok := conditions["all"]; ok {
		return validateBranchList("all", branches)
	}
	if branches, ok := conditions["any"]; ok {
		return validateBranchList("any", branches)
	}
	if _, ok := conditions["op"].(string); ok {
		return validateLeaf(conditions)
	}
	return fmt.Errorf("router: conditions must be an op object or an all/any list")
}

func validateBranchList(kind string, branches any) error {
	list, ok := branches.([]any)
	if !ok {
		return fmt.Errorf("router: %q must be a list of condition objects", kind)
	}
	if len(list) == 0 {
		return fmt.Errorf("router: %q list must not be empty", kind)
	}
	for i, branch := range list {
		cond, ok := branch.(map[string]any)
		if !ok {
			return fmt.Errorf("router: %s[%d] must be a condition object", kind, i)
		}
		if err := validateLeaf(cond); err != nil {
			return err
		}
	}
	return nil
}

func validateLeaf(cond map[string]any) error {
	op := strings.TrimSpace(stringify(cond["op"]))
	if _, ok := supportedOps[op]; !ok {
		return fmt.Errorf("router: unsupported condition op %q", op)
	}
	switch op {
	case "header_present", "header_equals":
		if strings.TrimSpace(stringify(cond["name"])) == "" {
			return fmt.Errorf("router: %s requires a header name", op)
		}
	case "json_path_exists", "json_path_equals":
		if strings.TrimSpace(stringify(cond["path"])) == "" {
			return fmt.Errorf("router: %s requires a path", op)
		}
	case "json_path_regex":
		if strings.TrimSpace(stringify(cond["path"])) == "" {
			return fmt.Errorf("router: %s requires a path", op)
		}
		pattern := stringify(cond["pattern"])
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("router: invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}
