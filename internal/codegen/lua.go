package codegen

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"weft/internal/ir"
	"weft/internal/resolve"
)

// marshalBoxed serializes a container value for opaque transit through the
// sandbox. Records marshal in field order, so the bytes are canonical.
func marshalBoxed(v any) ([]byte, error) {
	return json.Marshal(v)
}

// quote renders a Go string as a Lua string literal.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\%d`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// luaNumber formats a float64 so the Lua lexer reproduces the exact value.
func luaNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// literalExpr renders an ir.Literal as a Lua expression. Scalars lower
// directly; containers cross the boundary opaquely as canonical JSON in a
// one-slot box the host bridge unpacks. Dynamic expressions become concat
// chains over the injected ctx values.
func literalExpr(lit ir.Literal) (string, error) {
	if lit.Dynamic != "" {
		return dynamicExpr(lit.Dynamic), nil
	}
	return valueExpr(lit.Value)
}

func valueExpr(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case float64:
		return luaNumber(t), nil
	case string:
		return quote(t), nil
	default:
		// nested mapping or sequence: canonical JSON box
		b, err := marshalBoxed(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("{ j = %s }", quote(string(b))), nil
	}
}

func dynamicExpr(source string) string {
	segs := resolve.Splice(source)
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch seg.Func {
		case "now":
			parts = append(parts, "ctx.now")
		case "uuid":
			parts = append(parts, "ctx.id")
		default:
			parts = append(parts, quote(seg.Text))
		}
	}
	if len(parts) == 0 {
		return `""`
	}
	return strings.Join(parts, " .. ")
}
