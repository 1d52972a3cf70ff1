package file

import "fmt"

// Factory builds an Adapter (e.g., JSONLDriver).
type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from each driver’s init() or main() factory map.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewAdapter returns a driver by name (“jsonl”, …).
func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("file: unsupported driver %q", name)
}
