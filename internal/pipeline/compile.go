package pipeline

import (
	"fmt"

	"weft/internal/config"
	"weft/internal/frame"
	"weft/sink"
	srcfile "weft/source/file"
)

// Assemble wires one flow definition into a runnable pipeline: source
// driver by name, executor, sinks with their config blocks and ack binding.
func Assemble(flow config.Flow, exec Executor) (*Runner, error) {
	r := NewRunner(flow.Name, exec)

	if flow.Source.Driver == "" {
		return nil, fmt.Errorf("flow %q: source driver is required", flow.Name)
	}
	src, err := srcfile.NewAdapter(flow.Source.Driver)
	if err != nil {
		return nil, err
	}
	sc, err := srcfile.LoadConfig(flow.Source.Config)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(sc); err != nil {
		return nil, err
	}
	r.SetSource(src)

	if aw, ok := src.(interface{ OnAck(frame.Token) }); ok {
		r.SubscribeAck(aw.OnAck)
	}

	if len(flow.Sinks) == 0 {
		return nil, fmt.Errorf("flow %q: at least one sink is required", flow.Name)
	}
	for _, name := range flow.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return nil, err
		}
		cfg, err := flow.SinkConfig(name)
		if err != nil {
			return nil, err
		}
		if err := sDrv.Configure(cfg); err != nil {
			return nil, err
		}
		if ackAware, ok := sDrv.(sink.AckAware); ok {
			ackAware.BindAck(r.Ack)
		}
		r.AddSink(sDrv)
	}
	return r, nil
}
