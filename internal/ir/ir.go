// Package ir defines the typed intermediate representation of a transform
// list and the builder that validates raw steps into it. A FlowIR is
// immutable once built and safe to share read-only across execution paths.
package ir

// Kind identifies a transform node's operation.
type Kind string

const (
	KindMap       Kind = "map"
	KindDrop      Kind = "drop"
	KindAddFields Kind = "add_fields"
	KindCoalesce  Kind = "coalesce"
	KindFilter    Kind = "filter"
	KindRegex     Kind = "regex"
	KindTemplate  Kind = "template"
	KindLookup    Kind = "lookup"
)

// Node is one transform operation. Only the operand group matching Kind is
// populated. Operand slices are key-sorted at build time so execution order
// and the content hash are independent of YAML surface formatting.
type Node struct {
	Kind Kind `json:"kind"`

	Map       []FieldPair     `json:"map,omitempty"`
	Drop      []string        `json:"drop,omitempty"`
	AddFields []LiteralField  `json:"add_fields,omitempty"`
	Coalesce  []CoalesceField `json:"coalesce,omitempty"`
	Filter    string          `json:"filter,omitempty"`
	Regex     *RegexOp        `json:"regex,omitempty"`
	Template  []TemplateField `json:"template,omitempty"`
	Lookup    *LookupOp       `json:"lookup,omitempty"`
}

// FieldPair maps an output field to its source field.
type FieldPair struct {
	Out string `json:"out"`
	Src string `json:"src"`
}

// Literal is a value injected by add_fields: either a load-time constant or
// a deferred dynamic expression resolved once per record.
type Literal struct {
	Dynamic string `json:"dyn,omitempty"` // expression source; empty for constants
	Value   any    `json:"lit,omitempty"`
}

// LiteralField pairs a field name with its literal.
type LiteralField struct {
	Name  string  `json:"name"`
	Value Literal `json:"value"`
}

// CoalesceField takes the first present, non-null source for Out.
type CoalesceField struct {
	Out     string   `json:"out"`
	Sources []string `json:"sources"`
}

// RegexOp extracts capture groups from a source field.
type RegexOp struct {
	Field     string         `json:"field"`
	Pattern   string         `json:"pattern"`
	Captures  []CaptureField `json:"captures"`
	OnNoMatch string         `json:"on_no_match"` // null | skip | error
}

// CaptureField maps an output field to a capture group (index or name).
type CaptureField struct {
	Out   string `json:"out"`
	Group string `json:"group"`
}

// TemplateField renders a per-record template into Out.
type TemplateField struct {
	Out      string `json:"out"`
	Template string `json:"template"`
}

// LookupOp translates a key field through an embedded table.
type LookupOp struct {
	Field   string      `json:"field"`
	Output  string      `json:"output"`
	Table   []TablePair `json:"table"`
	Default *Literal    `json:"default,omitempty"`
}

// TablePair is one lookup table row.
type TablePair struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// FlowIR is the validated, macro-free form of one flow's transform list.
type FlowIR struct {
	Name  string
	Nodes []Node

	hash string
}

// Hash is the content hash over the canonical node sequence. Two flows with
// identical transform semantics hash identically regardless of surface
// formatting; it is the module cache key.
func (f *FlowIR) Hash() string { return f.hash }
