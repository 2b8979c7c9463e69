package action

import (
	"encoding/json"
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// Matcher evaluates a policy's argument expression against proposed args.
// Expressions are JMESPath; a policy whose matcher returns a falsy value does
// not apply to the proposal.
type Matcher struct {
	expr     string
	compiled jmespath.JMESPath
}

// CompileMatcher parses the expression once so per-proposal evaluation is a
// pure search. An empty expression yields a matcher that always applies.
func CompileMatcher(expr string) (*Matcher, error) {
	if expr == "" {
		return &Matcher{}, nil
	}
	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile matcher %q: %w", expr, err)
	}
	return &Matcher{expr: expr, compiled: compiled}, nil
}

// Expression returns the source expression.
func (m *Matcher) Expression() string { return m.expr }

// Matches reports whether the expression evaluates truthy against args.
// Evaluation errors propagate so the resolver can fail closed.
func (m *Matcher) Matches(args json.RawMessage) (bool, error) {
	if m.compiled == nil {
		return true, nil
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return false, fmt.Errorf("decode args for matcher: %w", err)
	}

	result, err := m.compiled.Search(decoded)
	if err != nil {
		return false, fmt.Errorf("evaluate matcher %q: %w", m.expr, err)
	}
	return truthy(result), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return true
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
