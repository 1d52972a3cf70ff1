package resolve

import (
	"fmt"
	"strings"

	"weft/internal/diag"
)

// Step is one raw transform entry: a single-key mapping from transform kind
// to its operands, as parsed from YAML. A {use: <name>} step is a macro
// reference.
type Step = map[string]any

// Library maps macro names to reusable transform fragments.
type Library map[string][]Step

// Context holds the named values available at configuration-load time.
type Context map[string]any

// Expand produces a macro-free, statically-resolved transform list. Macro
// expansion is structural substitution applied recursively; a reference
// cycle is fatal and reports the full chain.
func Expand(flow string, steps []Step, lib Library, vars Context) ([]Step, error) {
	expanded, err := expandMacros(flow, steps, lib, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Step, 0, len(expanded))
	for i, step := range expanded {
		resolved, err := resolveStep(flow, i, step, vars)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func expandMacros(flow string, steps []Step, lib Library, chain []string) ([]Step, error) {
	var out []Step
	for i, step := range steps {
		name, ok := macroRef(step)
		if !ok {
			out = append(out, step)
			continue
		}
		for _, seen := range chain {
			if seen == name {
				return nil, &diag.ConfigError{
					Flow:     flow,
					Position: i,
					Message: fmt.Sprintf("macro reference cycle: %s",
						strings.Join(append(chain, name), " -> ")),
				}
			}
		}
		fragment, ok := lib[name]
		if !ok {
			return nil, &diag.ConfigError{
				Flow:     flow,
				Position: i,
				Message:  fmt.Sprintf("unresolved macro %q", name),
			}
		}
		inner, err := expandMacros(flow, fragment, lib, append(chain, name))
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
	}
	return out, nil
}

func macroRef(step Step) (string, bool) {
	if len(step) != 1 {
		return "", false
	}
	v, ok := step["use"]
	if !ok {
		return "", false
	}
	name, ok := v.(string)
	return name, ok
}

// resolveStep evaluates load-time template expressions inside one step.
// Bodies of a template transform are per-record field references and are
// left untouched for the executor.
func resolveStep(flow string, pos int, step Step, vars Context) (Step, error) {
	out := make(Step, len(step))
	for kind, operands := range step {
		if kind == "template" {
			out[kind] = operands
			continue
		}
		v, err := resolveValue(flow, pos, operands, vars)
		if err != nil {
			return nil, err
		}
		out[kind] = v
	}
	return out, nil
}

func resolveValue(flow string, pos int, v any, vars Context) (any, error) {
	switch t := v.(type) {
	case string:
		return resolveString(flow, pos, t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := resolveValue(flow, pos, e, vars)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := resolveValue(flow, pos, e, vars)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString evaluates {{ }} expressions in s. Static expressions are
// replaced now; dynamic ones stay verbatim and tag the whole value.
func resolveString(flow string, pos int, s string, vars Context) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var b strings.Builder
	dynamic := false
	rest := s
	exprs := 0
	var sole any // typed value when s is exactly one static expression
	soleOK := false
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			break
		}
		close := strings.Index(rest[open:], "}}")
		if close < 0 {
			return nil, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("unterminated template expression in %q", s)}
		}
		b.WriteString(rest[:open])
		body := strings.TrimSpace(rest[open+2 : open+close])
		token := rest[open : open+close+2]
		rest = rest[open+close+2:]
		exprs++

		if _, ok := dynamicCall(body); ok {
			dynamic = true
			b.WriteString(token)
			continue
		}
		if strings.HasSuffix(body, "()") {
			return nil, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("unknown template function in %q", body)}
		}
		val, err := lookupVar(flow, pos, body, vars)
		if err != nil {
			return nil, err
		}
		if exprs == 1 && open == 0 && rest == "" {
			sole, soleOK = val, true
		}
		b.WriteString(formatScalar(val))
	}
	b.WriteString(rest)

	if dynamic {
		return Dynamic{Source: b.String()}, nil
	}
	if exprs == 1 && soleOK {
		return sole, nil
	}
	return b.String(), nil
}

func lookupVar(flow string, pos int, path string, vars Context) (any, error) {
	cur := any(map[string]any(vars))
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("template variable %q is not resolvable", path)}
		}
		cur, ok = m[part]
		if !ok {
			return nil, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("undefined template variable %q", path)}
		}
	}
	return cur, nil
}
