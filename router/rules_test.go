package router

import (
	"strings"
	"testing"
)

func rulePayload() map[string]any {
	return map[string]any{
		"headers": map[string]any{
			"X-GitHub-Event": "push",
			"Content-Type":   "application/json",
		},
		"json": map[string]any{
			"ref": "refs/heads/main",
			"repository": map[string]any{
				"full_name": "acme/widgets",
			},
			"commits": []any{
				map[string]any{"id": "abc123"},
			},
			"forced": false,
			"size":   float64(3),
		},
	}
}

func TestEvaluateConditions_LeafOps(t *testing.T) {
	payload := rulePayload()

	cases := []struct {
		name    string
		cond    map[string]any
		matched bool
	}{
		{"header present", map[string]any{"op": "header_present", "name": "X-GitHub-Event"}, true},
		{"header absent", map[string]any{"op": "header_present", "name": "x-missing"}, false},
		{"header equals", map[string]any{"op": "header_equals", "name": "x-github-event", "value": "push"}, true},
		{"header mismatch", map[string]any{"op": "header_equals", "name": "x-github-event", "value": "release"}, false},
		{"json path exists", map[string]any{"op": "json_path_exists", "path": "repository.full_name"}, true},
		{"json path missing", map[string]any{"op": "json_path_exists", "path": "repository.owner"}, false},
		{"json path equals string", map[string]any{"op": "json_path_equals", "path": "ref", "value": "refs/heads/main"}, true},
		{"json path equals number", map[string]any{"op": "json_path_equals", "path": "size", "value": 3}, true},
		{"json path equals bool", map[string]any{"op": "json_path_equals", "path": "forced", "value": false}, true},
		{"json path array index", map[string]any{"op": "json_path_equals", "path": "commits.0.id", "value": "abc123"}, true},
		{"json path regex", map[string]any{"op": "json_path_regex", "path": "ref", "pattern": "^refs/heads/"}, true},
		{"json path regex no match", map[string]any{"op": "json_path_regex", "path": "ref", "pattern": "^refs/tags/"}, false},
		{"unknown op", map[string]any{"op": "glob_match", "path": "ref"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			match := EvaluateConditions(payload, tc.cond)
			if match.Matched != tc.matched {
				t.Fatalf("expected matched=%v, got %+v", tc.matched, match)
			}
			if len(match.Reasons) == 0 {
				t.Fatalf("expected diagnostic reasons")
			}
		})
	}
}

func TestEvaluateConditions_AllShortCircuits(t *testing.T) {
	payload := rulePayload()

	match := EvaluateConditions(payload, map[string]any{
		"all": []any{
			map[string]any{"op": "header_present", "name": "x-missing"},
			map[string]any{"op": "header_present", "name": "x-github-event"},
		},
	})
	if match.Matched {
		t.Fatalf("expected conjunction to fail")
	}
	// The second branch is never evaluated once the first fails.
	if len(match.Reasons) != 1 {
		t.Fatalf("expected short-circuit after first failure, got %v", match.Reasons)
	}
}

func TestEvaluateConditions_AnyAccumulates(t *testing.T) {
	payload := rulePayload()

	match := EvaluateConditions(payload, map[string]any{
		"any": []any{
			map[string]any{"op": "header_present", "name": "x-missing"},
			map[string]any{"op": "header_present", "name": "x-github-event"},
		},
	})
	if !match.Matched {
		t.Fatalf("expected disjunction to match")
	}
	if len(match.Reasons) != 2 {
		t.Fatalf("expected every branch evaluated, got %v", match.Reasons)
	}
}

func TestEvaluateConditions_MalformedTrees(t *testing.T) {
	payload := rulePayload()

	if match := EvaluateConditions(payload, map[string]any{}); match.Matched {
		t.Fatalf("expected empty conditions to never match")
	}
	if match := EvaluateConditions(payload, map[string]any{"all": []any{"not-an-object"}}); match.Matched {
		t.Fatalf("expected malformed branch to never match")
	}
}

func TestValidateConditions(t *testing.T) {
	valid := []map[string]any{
		{"op": "header_present", "name": "x-github-event"},
		{"op": "json_path_regex", "path": "ref", "pattern": "^refs/"},
		{"all": []any{map[string]any{"op": "json_path_exists", "path": "ref"}}},
		{"any": []any{map[string]any{"op": "header_equals", "name": "a", "value": "b"}}},
	}
	for i, cond := range valid {
		if err := ValidateConditions(cond); err != nil {
			t.Fatalf("valid[%d]: unexpected error %v", i, err)
		}
	}

	invalid := []struct {
		cond map[string]any
		want string
	}{
		{nil, "required"},
		{map[string]any{}, "op object"},
		{map[string]any{"op": "glob_match"}, "unsupported"},
		{map[string]any{"op": "header_present"}, "header name"},
		{map[string]any{"op": "json_path_exists"}, "path"},
		{map[string]any{"op": "json_path_regex", "path": "ref", "pattern": "["}, "pattern"},
		{map[string]any{"all": []any{}}, "empty"},
		{map[string]any{"all": "nope"}, "list"},
		{map[string]any{"any": []any{"nope"}}, "condition object"},
	}
	for i, tc := range invalid {
		err := ValidateConditions(tc.cond)
		if err == nil {
			t.Fatalf("invalid[%d]: expected error", i)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("invalid[%d]: expected %q in error, got %v", i, tc.want, err)
		}
	}
}
