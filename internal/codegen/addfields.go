package codegen

import (
	"fmt"
	"strings"

	"weft/internal/ir"
)

// emitAddFields inserts each literal; a colliding key overwrites in place
// (last-writer-wins across the transform list).
func emitAddFields(b *strings.Builder, fields []ir.LiteralField) error {
	for _, f := range fields {
		expr, err := literalExpr(f.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "  set(keys, vals, %s, %s)\n", quote(f.Name), expr)
	}
	return nil
}
