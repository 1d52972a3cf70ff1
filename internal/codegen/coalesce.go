package codegen

import (
	"fmt"
	"strings"

	"weft/internal/ir"
)

// emitCoalesce scans each candidate list in order and takes the first
// present, non-null value; when every candidate is absent or null the
// output field is set to null.
func emitCoalesce(b *strings.Builder, fields []ir.CoalesceField) error {
	for _, f := range fields {
		b.WriteString("  do\n")
		fmt.Fprintf(b, "    local v = get(keys, vals, %s)\n", quote(f.Sources[0]))
		for _, src := range f.Sources[1:] {
			b.WriteString("    if v == nil or v == NULL then\n")
			fmt.Fprintf(b, "      v = get(keys, vals, %s)\n", quote(src))
			b.WriteString("    end\n")
		}
		b.WriteString("    if v == nil then v = NULL end\n")
		fmt.Fprintf(b, "    set(keys, vals, %s, v)\n", quote(f.Out))
		b.WriteString("  end\n")
	}
	return nil
}
