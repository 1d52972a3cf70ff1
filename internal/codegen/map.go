package codegen

import (
	"fmt"
	"strings"

	"weft/internal/ir"
)

// emitMap lowers a map node. Map is projective: it builds a fresh record
// holding only the mapped output fields; a missing source yields an
// explicit null, never an error.
func emitMap(b *strings.Builder, pairs []ir.FieldPair) error {
	b.WriteString("  do\n    local nk = {}\n    local nv = {}\n")
	for _, p := range pairs {
		fmt.Fprintf(b, "    local v = get(keys, vals, %s)\n", quote(p.Src))
		b.WriteString("    if v == nil then v = NULL end\n")
		fmt.Fprintf(b, "    set(nk, nv, %s, v)\n", quote(p.Out))
	}
	b.WriteString("    keys, vals = nk, nv\n  end\n")
	return nil
}
