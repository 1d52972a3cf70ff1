// Package codegen translates a FlowIR into Lua source for the sandbox. The
// emitted module defines one entry point, transform(keys, vals, ctx), over
// the order-preserving record wire form and uses no Lua standard library:
// the host opens none.
package codegen

import (
	"fmt"
	"strings"

	"weft/internal/diag"
	"weft/internal/ir"
)

// Version tags generated source. It participates in the module cache key,
// so bumping it invalidates every cached module.
const Version = "weftgen/1"

// prelude is the record runtime shared by every generated module. It relies
// only on language primitives (no pairs, no table library) so the sandbox
// can stay completely closed.
const prelude = `local function idx(keys, name)
  for i = 1, #keys do
    if keys[i] == name then return i end
  end
  return nil
end

local function get(keys, vals, name)
  local i = idx(keys, name)
  if i == nil then return nil end
  return vals[i]
end

local function set(keys, vals, name, v)
  local i = idx(keys, name)
  if i == nil then
    keys[#keys + 1] = name
    vals[#keys] = v
  else
    vals[i] = v
  end
end

local function del(keys, vals, name)
  local i = idx(keys, name)
  if i == nil then return end
  local n = #keys
  for j = i, n - 1 do
    keys[j] = keys[j + 1]
    vals[j] = vals[j + 1]
  end
  keys[n] = nil
  vals[n] = nil
end
`

// Generate emits the sandbox module source for a flow. Kinds outside the
// generator's support set are rejected explicitly, never skipped.
func Generate(flow *ir.FlowIR) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s flow=%s hash=%s\n", Version, flow.Name, flow.Hash())
	b.WriteString(prelude)
	b.WriteString("\nfunction transform(keys, vals, ctx)\n")

	for i, node := range flow.Nodes {
		fmt.Fprintf(&b, "  -- [%d] %s\n", i, node.Kind)
		var err error
		switch node.Kind {
		case ir.KindMap:
			err = emitMap(&b, node.Map)
		case ir.KindDrop:
			err = emitDrop(&b, node.Drop)
		case ir.KindAddFields:
			err = emitAddFields(&b, node.AddFields)
		case ir.KindCoalesce:
			err = emitCoalesce(&b, node.Coalesce)
		default:
			err = fmt.Errorf("transform kind %q not supported by code generator", node.Kind)
		}
		if err != nil {
			return "", &diag.CompileError{Flow: flow.Name, Position: i, Message: err.Error()}
		}
	}

	b.WriteString("  return keys, vals\nend\n")
	return b.String(), nil
}
