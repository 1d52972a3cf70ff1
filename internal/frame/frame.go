// Package frame defines the unit of flow between a source, the executor
// and the sinks. Sources attach a checkpoint token to every record; sinks
// return the token through the ack path once the record is durable.
package frame

import "weft/internal/record"

// Token is a positional checkpoint inside a source. Acking a token tells
// the source that everything it needs for this record is done.
type Token struct {
	Source string // source identity, usually a file path
	Line   int64  // 1-based position within the source
}

// Frame carries one record plus its checkpoint through the pipeline.
type Frame struct {
	Record *record.Record
	Token  Token
}
