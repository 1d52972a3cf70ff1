// Package file is a JSONL sink: one transformed record per line, acked
// only after the bytes reach the operating system.
package file

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"weft/internal/frame"
	"weft/sink"
)

type Config struct {
	Path     string `yaml:"path"`
	Append   bool   `yaml:"append"`
	FlushLen int    `yaml:"flush_len"` // records per flush, 0 = every record
}

type driver struct {
	cfg Config
	ack sink.EmitFn

	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	pending []frame.Token
}

func (d *driver) Configure(raw any) error {
	cfg, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("file-sink: expected Config, got %T", raw)
	}
	if cfg.Path == "" {
		return fmt.Errorf("file-sink: path is required")
	}
	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("file-sink: open %s: %w", cfg.Path, err)
	}
	d.cfg = cfg
	d.f = f
	d.w = bufio.NewWriter(f)
	return nil
}

func (d *driver) Push(f *frame.Frame) error {
	line, err := f.Record.MarshalJSON()
	if err != nil {
		return fmt.Errorf("file-sink: encode record: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.w.Write(line); err != nil {
		return fmt.Errorf("file-sink: write: %w", err)
	}
	if err := d.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("file-sink: write: %w", err)
	}
	d.pending = append(d.pending, f.Token)
	if len(d.pending) >= d.cfg.FlushLen {
		return d.flushLocked()
	}
	return nil
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return nil
	}
	if err := d.flushLocked(); err != nil {
		return err
	}
	err := d.f.Close()
	d.w, d.f = nil, nil
	return err
}

func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

// flushLocked writes buffered lines out and acks everything they cover.
func (d *driver) flushLocked() error {
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("file-sink: flush: %w", err)
	}
	if d.ack != nil {
		for _, t := range d.pending {
			d.ack(t)
		}
	}
	d.pending = d.pending[:0]
	return nil
}

func init() { sink.Register("file", func() sink.Adapter { return &driver{} }) }
