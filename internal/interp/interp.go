// Package interp executes a FlowIR directly, without lowering to a sandbox
// module. It is the reference semantics: for the transform kinds the code
// generator supports, both paths must produce byte-identical records.
package interp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"weft/internal/diag"
	"weft/internal/ir"
	"weft/internal/record"
	"weft/internal/resolve"
	"weft/internal/telemetry"
)

// ErrDropped reports that a filter node rejected the record. It is an
// outcome, not a failure: the caller acknowledges the record and skips its
// sinks.
var ErrDropped = errors.New("record dropped by filter")

// Interpreter evaluates one flow's IR. Node artifacts (filter programs,
// regex matchers, template segmentations) are prepared once at build time;
// Execute itself allocates only per-record state and is safe for concurrent
// use.
type Interpreter struct {
	flow  string
	nodes []ir.Node

	filters   map[int]cel.Program
	matchers  map[int]*regexp.Regexp
	templates map[int][][]tplSegment
}

// New prepares an interpreter for a flow. Invalid filter expressions
// surface as ConfigErrors carrying the node position.
func New(flow *ir.FlowIR) (*Interpreter, error) {
	in := &Interpreter{
		flow:      flow.Name,
		nodes:     flow.Nodes,
		filters:   make(map[int]cel.Program),
		matchers:  make(map[int]*regexp.Regexp),
		templates: make(map[int][][]tplSegment),
	}
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("flow %q: filter environment: %w", flow.Name, err)
	}
	for i, node := range flow.Nodes {
		switch node.Kind {
		case ir.KindFilter:
			ast, iss := env.Parse(node.Filter)
			if iss != nil && iss.Err() != nil {
				return nil, &diag.ConfigError{Flow: flow.Name, Position: i,
					Message: fmt.Sprintf("filter: invalid expression %q: %v", node.Filter, iss.Err())}
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, &diag.ConfigError{Flow: flow.Name, Position: i,
					Message: fmt.Sprintf("filter: %v", err)}
			}
			in.filters[i] = prg
		case ir.KindRegex:
			// Pattern validity was checked at IR build time.
			in.matchers[i] = regexp.MustCompile(node.Regex.Pattern)
		case ir.KindTemplate:
			segs := make([][]tplSegment, len(node.Template))
			for j, f := range node.Template {
				segs[j] = parseTemplate(f.Template)
			}
			in.templates[i] = segs
		}
	}
	return in, nil
}

// Execute runs one record through every node in order. The input record is
// not mutated. A false filter returns ErrDropped; node failures return
// *diag.ExecFailure with the node position.
func (in *Interpreter) Execute(ctx context.Context, rec *record.Record, ec resolve.ExecContext) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	cur := rec.Clone()
	for i, node := range in.nodes {
		var err error
		switch node.Kind {
		case ir.KindMap:
			cur = evalMap(cur, node.Map)
		case ir.KindDrop:
			for _, f := range node.Drop {
				cur.Delete(f)
			}
		case ir.KindAddFields:
			evalAddFields(cur, node.AddFields, ec)
		case ir.KindCoalesce:
			evalCoalesce(cur, node.Coalesce)
		case ir.KindFilter:
			err = in.evalFilter(i, cur)
		case ir.KindRegex:
			err = in.evalRegex(i, cur, node.Regex)
		case ir.KindTemplate:
			evalTemplate(cur, node.Template, in.templates[i])
		case ir.KindLookup:
			evalLookup(cur, node.Lookup)
		default:
			err = fmt.Errorf("unknown transform kind %q", node.Kind)
		}
		if errors.Is(err, ErrDropped) {
			return nil, err
		}
		if err != nil {
			return nil, &diag.ExecFailure{Flow: in.flow, Position: i, Message: err.Error()}
		}
	}
	telemetry.ExecuteDuration.WithLabelValues("interpreted").Observe(time.Since(start).Seconds())
	return cur, nil
}

// evalMap projects the record: only mapped fields survive, in pair order.
// A missing source yields an explicit null.
func evalMap(rec *record.Record, pairs []ir.FieldPair) *record.Record {
	out := record.New()
	for _, p := range pairs {
		v, _ := rec.Get(p.Src)
		out.Set(p.Out, v)
	}
	return out
}

func evalAddFields(rec *record.Record, fields []ir.LiteralField, ec resolve.ExecContext) {
	for _, f := range fields {
		if f.Value.Dynamic != "" {
			rec.Set(f.Name, ec.Eval(f.Value.Dynamic))
			continue
		}
		rec.Set(f.Name, record.CloneValue(f.Value.Value))
	}
}

func evalCoalesce(rec *record.Record, fields []ir.CoalesceField) {
	for _, f := range fields {
		var picked any
		for _, src := range f.Sources {
			if v, ok := rec.Get(src); ok && v != nil {
				picked = v
				break
			}
		}
		rec.Set(f.Out, picked)
	}
}

func (in *Interpreter) evalFilter(pos int, rec *record.Record) error {
	out, _, err := in.filters[pos].Eval(celActivation(rec))
	if err != nil {
		return fmt.Errorf("filter: %v", err)
	}
	keep, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("filter: expression yielded %T, want bool", out.Value())
	}
	if !keep {
		return ErrDropped
	}
	return nil
}

// celActivation snapshots the record as the expression's variable scope.
func celActivation(rec *record.Record) map[string]any {
	m := make(map[string]any, rec.Len())
	for _, k := range rec.Keys() {
		v, _ := rec.Get(k)
		m[k] = celValue(v)
	}
	return m
}

func celValue(v any) any {
	switch t := v.(type) {
	case *record.Record:
		m := make(map[string]any, t.Len())
		for _, k := range t.Keys() {
			e, _ := t.Get(k)
			m[k] = celValue(e)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = celValue(e)
		}
		return out
	default:
		return v
	}
}

func (in *Interpreter) evalRegex(pos int, rec *record.Record, op *ir.RegexOp) error {
	input, _ := rec.Get(op.Field)
	s, isString := input.(string)
	var match []string
	if isString {
		match = in.matchers[pos].FindStringSubmatch(s)
	}
	if match == nil {
		switch op.OnNoMatch {
		case "skip":
			return nil
		case "error":
			return fmt.Errorf("regex: field %q did not match %q", op.Field, op.Pattern)
		default: // null
			for _, c := range op.Captures {
				rec.Set(c.Out, nil)
			}
			return nil
		}
	}
	re := in.matchers[pos]
	for _, c := range op.Captures {
		rec.Set(c.Out, captureValue(re, match, c.Group))
	}
	return nil
}

// captureValue resolves a capture reference, numeric index or group name,
// against a successful match. Out-of-range references yield null.
func captureValue(re *regexp.Regexp, match []string, group string) any {
	if idx, err := strconv.Atoi(group); err == nil {
		if idx >= 0 && idx < len(match) {
			return match[idx]
		}
		return nil
	}
	for i, name := range re.SubexpNames() {
		if name == group && i < len(match) {
			return match[i]
		}
	}
	return nil
}

func evalTemplate(rec *record.Record, fields []ir.TemplateField, segs [][]tplSegment) {
	rendered := make([]string, len(fields))
	for j := range fields {
		rendered[j] = renderTemplate(rec, segs[j])
	}
	// Render everything first: a template must not observe a sibling's
	// output written in the same node.
	for j, f := range fields {
		rec.Set(f.Out, rendered[j])
	}
}

func evalLookup(rec *record.Record, op *ir.LookupOp) {
	v, ok := rec.Get(op.Field)
	if ok {
		if key, isKey := lookupKey(v); isKey {
			for _, row := range op.Table {
				if row.Key == key {
					rec.Set(op.Output, record.CloneValue(row.Value))
					return
				}
			}
		}
	}
	if op.Default != nil {
		rec.Set(op.Output, record.CloneValue(op.Default.Value))
		return
	}
	rec.Set(op.Output, nil)
}

// lookupKey renders a scalar field value as a table key. Containers and
// nulls never match.
func lookupKey(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// tplSegment is one piece of a field template: literal text or a field
// reference.
type tplSegment struct {
	text  string
	field string
}

// parseTemplate splits a template body on {{ field }} references. An
// unterminated opener is kept as literal text.
func parseTemplate(tpl string) []tplSegment {
	var segs []tplSegment
	rest := tpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			break
		}
		close := strings.Index(rest[open:], "}}")
		if close < 0 {
			break
		}
		end := open + close
		if open > 0 {
			segs = append(segs, tplSegment{text: rest[:open]})
		}
		segs = append(segs, tplSegment{field: strings.TrimSpace(rest[open+2 : end])})
		rest = rest[end+2:]
	}
	if rest != "" {
		segs = append(segs, tplSegment{text: rest})
	}
	return segs
}

func renderTemplate(rec *record.Record, segs []tplSegment) string {
	var b []byte
	for _, seg := range segs {
		if seg.field == "" {
			b = append(b, seg.text...)
			continue
		}
		v, _ := rec.Get(seg.field)
		b = append(b, renderValue(v)...)
	}
	return string(b)
}

// renderValue formats a field value for template interpolation. Containers
// render as their canonical JSON.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
