package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"weft/internal/diag"
	"weft/internal/record"
	"weft/internal/resolve"
)

// Build validates an expanded transform list and lowers it into a FlowIR.
// The input must be macro-free and statically resolved (resolve.Expand
// output); anything else is a caller bug surfaced as a ConfigError.
func Build(flow string, steps []resolve.Step) (*FlowIR, error) {
	nodes := make([]Node, 0, len(steps))
	for i, step := range steps {
		node, err := buildNode(flow, i, step)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	hash, err := contentHash(nodes)
	if err != nil {
		return nil, &diag.ConfigError{Flow: flow, Position: -1,
			Message: fmt.Sprintf("hashing IR: %v", err)}
	}
	return &FlowIR{Name: flow, Nodes: nodes, hash: hash}, nil
}

// contentHash is SHA-256 over the canonical JSON of the node sequence.
// Operand slices are already key-sorted and encoding/json sorts map keys,
// so the serialization is deterministic across processes and over time.
func contentHash(nodes []Node) (string, error) {
	canon, err := json.Marshal(nodes)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func buildNode(flow string, pos int, step resolve.Step) (Node, error) {
	if len(step) != 1 {
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: fmt.Sprintf("transform step must have exactly one kind, found %d keys", len(step))}
	}
	var kind string
	var operands any
	for k, v := range step {
		kind, operands = k, v
	}

	switch Kind(kind) {
	case KindMap:
		return buildMap(flow, pos, operands)
	case KindDrop:
		return buildDrop(flow, pos, operands)
	case KindAddFields:
		return buildAddFields(flow, pos, operands)
	case KindCoalesce:
		return buildCoalesce(flow, pos, operands)
	case KindFilter:
		return buildFilter(flow, pos, operands)
	case KindRegex:
		return buildRegex(flow, pos, operands)
	case KindTemplate:
		return buildTemplate(flow, pos, operands)
	case KindLookup:
		return buildLookup(flow, pos, operands)
	default:
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: fmt.Sprintf("unknown transform kind %q", kind)}
	}
}

func buildMap(flow string, pos int, operands any) (Node, error) {
	m, err := stringMap(flow, pos, "map", operands)
	if err != nil {
		return Node{}, err
	}
	pairs := make([]FieldPair, 0, len(m))
	for out, src := range m {
		s, ok := src.(string)
		if !ok || s == "" {
			return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("map: source for %q must be a non-empty field name", out)}
		}
		pairs = append(pairs, FieldPair{Out: out, Src: s})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Out < pairs[j].Out })
	return Node{Kind: KindMap, Map: pairs}, nil
}

func buildDrop(flow string, pos int, operands any) (Node, error) {
	list, ok := operands.([]any)
	if !ok {
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: fmt.Sprintf("drop: expected a list of field names, got %T", operands)}
	}
	fields := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok || s == "" {
			return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
				Message: "drop: field names must be non-empty strings"}
		}
		fields = append(fields, s)
	}
	sort.Strings(fields)
	return Node{Kind: KindDrop, Drop: fields}, nil
}

func buildAddFields(flow string, pos int, operands any) (Node, error) {
	m, err := stringMap(flow, pos, "add_fields", operands)
	if err != nil {
		return Node{}, err
	}
	fields := make([]LiteralField, 0, len(m))
	for name, v := range m {
		lit, err := buildLiteral(flow, pos, v)
		if err != nil {
			return Node{}, err
		}
		fields = append(fields, LiteralField{Name: name, Value: lit})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return Node{Kind: KindAddFields, AddFields: fields}, nil
}

func buildCoalesce(flow string, pos int, operands any) (Node, error) {
	m, err := stringMap(flow, pos, "coalesce", operands)
	if err != nil {
		return Node{}, err
	}
	fields := make([]CoalesceField, 0, len(m))
	for out, v := range m {
		list, ok := v.([]any)
		if !ok || len(list) == 0 {
			return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("coalesce: %q needs a non-empty candidate list", out)}
		}
		sources := make([]string, 0, len(list))
		for _, e := range list {
			s, ok := e.(string)
			if !ok || s == "" {
				return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
					Message: fmt.Sprintf("coalesce: candidates for %q must be non-empty field names", out)}
			}
			sources = append(sources, s)
		}
		fields = append(fields, CoalesceField{Out: out, Sources: sources})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Out < fields[j].Out })
	return Node{Kind: KindCoalesce, Coalesce: fields}, nil
}

func buildFilter(flow string, pos int, operands any) (Node, error) {
	m, err := stringMap(flow, pos, "filter", operands)
	if err != nil {
		return Node{}, err
	}
	if err := knownKeys(flow, pos, "filter", m, "when"); err != nil {
		return Node{}, err
	}
	when, ok := m["when"].(string)
	if !ok || when == "" {
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: "filter: required key \"when\" must be a non-empty expression"}
	}
	return Node{Kind: KindFilter, Filter: when}, nil
}

func buildRegex(flow string, pos int, operands any) (Node, error) {
	m, err := stringMap(flow, pos, "regex", operands)
	if err != nil {
		return Node{}, err
	}
	if err := knownKeys(flow, pos, "regex", m, "field", "pattern", "captures", "on_no_match"); err != nil {
		return Node{}, err
	}
	field, _ := m["field"].(string)
	pattern, _ := m["pattern"].(string)
	if field == "" || pattern == "" {
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: "regex: required keys \"field\" and \"pattern\" must be non-empty"}
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: fmt.Sprintf("regex: invalid pattern %q: %v", pattern, err)}
	}
	capsRaw, ok := m["captures"].(map[string]any)
	if !ok || len(capsRaw) == 0 {
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: "regex: required key \"captures\" must map output fields to groups"}
	}
	captures := make([]CaptureField, 0, len(capsRaw))
	for out, g := range capsRaw {
		group := fmt.Sprintf("%v", g)
		if out == "" || group == "" {
			return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
				Message: "regex: capture names and groups must be non-empty"}
		}
		captures = append(captures, CaptureField{Out: out, Group: group})
	}
	sort.Slice(captures, func(i, j int) bool { return captures[i].Out < captures[j].Out })

	onNoMatch := "null"
	if v, ok := m["on_no_match"]; ok {
		s, _ := v.(string)
		switch s {
		case "null", "skip", "error":
			onNoMatch = s
		default:
			return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("regex: on_no_match must be null, skip or error, got %q", s)}
		}
	}
	return Node{Kind: KindRegex, Regex: &RegexOp{
		Field: field, Pattern: pattern, Captures: captures, OnNoMatch: onNoMatch,
	}}, nil
}

func buildTemplate(flow string, pos int, operands any) (Node, error) {
	m, err := stringMap(flow, pos, "template", operands)
	if err != nil {
		return Node{}, err
	}
	fields := make([]TemplateField, 0, len(m))
	for out, v := range m {
		tpl, ok := v.(string)
		if !ok {
			return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("template: body for %q must be a string", out)}
		}
		fields = append(fields, TemplateField{Out: out, Template: tpl})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Out < fields[j].Out })
	return Node{Kind: KindTemplate, Template: fields}, nil
}

func buildLookup(flow string, pos int, operands any) (Node, error) {
	m, err := stringMap(flow, pos, "lookup", operands)
	if err != nil {
		return Node{}, err
	}
	if err := knownKeys(flow, pos, "lookup", m, "field", "table", "output", "default"); err != nil {
		return Node{}, err
	}
	field, _ := m["field"].(string)
	output, _ := m["output"].(string)
	if field == "" || output == "" {
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: "lookup: required keys \"field\" and \"output\" must be non-empty"}
	}
	tableRaw, ok := m["table"].(map[string]any)
	if !ok || len(tableRaw) == 0 {
		return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: "lookup: required key \"table\" must be a non-empty mapping"}
	}
	table := make([]TablePair, 0, len(tableRaw))
	for k, v := range tableRaw {
		table = append(table, TablePair{Key: k, Value: normalizeLiteral(v)})
	}
	sort.Slice(table, func(i, j int) bool { return table[i].Key < table[j].Key })

	op := &LookupOp{Field: field, Output: output, Table: table}
	if v, ok := m["default"]; ok {
		lit, err := buildLiteral(flow, pos, v)
		if err != nil {
			return Node{}, err
		}
		if lit.Dynamic != "" {
			return Node{}, &diag.ConfigError{Flow: flow, Position: pos,
				Message: "lookup: default must not be a dynamic expression"}
		}
		op.Default = &lit
	}
	return Node{Kind: KindLookup, Lookup: op}, nil
}

func buildLiteral(flow string, pos int, v any) (Literal, error) {
	if d, ok := v.(resolve.Dynamic); ok {
		return Literal{Dynamic: d.Source}, nil
	}
	if containsDynamic(v) {
		return Literal{}, &diag.ConfigError{Flow: flow, Position: pos,
			Message: "dynamic expressions are only allowed as scalar field values"}
	}
	return Literal{Value: normalizeLiteral(v)}, nil
}

func containsDynamic(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		for _, e := range t {
			if containsDynamic(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if containsDynamic(e) {
				return true
			}
		}
	case resolve.Dynamic:
		return true
	}
	return false
}

// normalizeLiteral converts YAML scalar types to the record value model:
// numbers become float64, nested mappings become key-sorted Records.
func normalizeLiteral(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		r := record.New()
		for _, k := range keys {
			r.Set(k, normalizeLiteral(t[k]))
		}
		return r
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeLiteral(e)
		}
		return out
	default:
		return v
	}
}

func stringMap(flow string, pos int, kind string, operands any) (map[string]any, error) {
	m, ok := operands.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, &diag.ConfigError{Flow: flow, Position: pos,
			Message: fmt.Sprintf("%s: expected a non-empty mapping, got %T", kind, operands)}
	}
	for k := range m {
		if k == "" {
			return nil, &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("%s: field names must be non-empty strings", kind)}
		}
	}
	return m, nil
}

func knownKeys(flow string, pos int, kind string, m map[string]any, allowed ...string) error {
	for k := range m {
		ok := false
		for _, a := range allowed {
			if k == a {
				ok = true
				break
			}
		}
		if !ok {
			return &diag.ConfigError{Flow: flow, Position: pos,
				Message: fmt.Sprintf("%s: unknown key %q", kind, k)}
		}
	}
	return nil
}
