// Package resolve expands macro references and evaluates load-time template
// expressions inside a parsed transform list. Its output is the only
// permitted input to the IR builder: macro-free, with every static
// expression replaced and every dynamic expression tagged for per-record
// resolution.
package resolve

import (
	"fmt"
	"strings"
)

// Dynamic tags a template expression whose value depends on per-record
// execution time. It is forwarded through the IR untouched and resolved by
// the executor, once per processed record.
type Dynamic struct {
	Source string
}

// dynamicFuncs is the catalog of execution-time functions. The function-call
// form inside {{ }} is the marker the resolver keys on.
var dynamicFuncs = map[string]bool{
	"now":  true,
	"uuid": true,
}

// Segment is one piece of a spliced dynamic expression: either literal text
// or a dynamic function reference.
type Segment struct {
	Text string
	Func string // "now" or "uuid" when non-empty; Text is ignored
}

// Splice breaks a dynamic expression source into literal text and dynamic
// function segments. Both execution paths interpolate from the same
// segmentation, which keeps their outputs byte-identical.
func Splice(source string) []Segment {
	var segs []Segment
	rest := source
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			break
		}
		close := strings.Index(rest[open:], "}}")
		if close < 0 {
			break
		}
		body := strings.TrimSpace(rest[open+2 : open+close])
		name, ok := dynamicCall(body)
		if !ok {
			// Not a dynamic call; keep the braces as literal text.
			segs = append(segs, Segment{Text: rest[:open+close+2]})
			rest = rest[open+close+2:]
			continue
		}
		if open > 0 {
			segs = append(segs, Segment{Text: rest[:open]})
		}
		segs = append(segs, Segment{Func: name})
		rest = rest[open+close+2:]
	}
	if rest != "" {
		segs = append(segs, Segment{Text: rest})
	}
	return segs
}

// dynamicCall reports whether body is a call to a dynamic catalog function.
func dynamicCall(body string) (string, bool) {
	if !strings.HasSuffix(body, "()") {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimSuffix(body, "()"))
	if dynamicFuncs[name] {
		return name, true
	}
	return "", false
}

// ExecContext carries the per-record values dynamic expressions resolve to.
// The caller supplies it once per record; injecting the same context into
// both execution paths must yield identical output.
type ExecContext struct {
	Now string // RFC3339Nano UTC timestamp
	ID  string // fresh v4 UUID
}

// Eval interpolates a dynamic expression against an execution context.
func (c ExecContext) Eval(source string) string {
	var b strings.Builder
	for _, seg := range Splice(source) {
		switch seg.Func {
		case "now":
			b.WriteString(c.Now)
		case "uuid":
			b.WriteString(c.ID)
		default:
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// formatScalar renders a load-time value spliced into a larger string.
func formatScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", t)
	}
}
