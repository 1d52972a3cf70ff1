package codegen

import (
	"fmt"
	"strings"
)

// emitDrop removes each named field if present; absent fields are a no-op.
func emitDrop(b *strings.Builder, fields []string) error {
	for _, f := range fields {
		fmt.Fprintf(b, "  del(keys, vals, %s)\n", quote(f))
	}
	return nil
}
