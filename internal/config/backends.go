package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/FairForge/edgeinfer/internal/backend"
)

// Build constructs the declared backend. Relative module paths resolve
// against dir.
func (b BackendConfig) Build(dir string) (backend.Backend, error) {
	name := b.Name
	if name == "" {
		name = b.ID
	}

	switch b.Type {
	case BackendSimulated:
		return backend.NewSimulated(backend.SimulatedConfig{
			Name:       name,
			Capability: b.Capability,
			Resources:  b.Resources,
			Latency:    b.Latency.Duration,
		}), nil

	case BackendWASM:
		w := backend.NewWASM(backend.WASMConfig{
			Name:       name,
			Capability: b.Capability,
			Resources:  b.Resources,
		})
		ids := make([]string, 0, len(b.Modules))
		for id := range b.Modules {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			path := b.Modules[id]
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("backend %s: module %s: %w", b.ID, id, err)
			}
			w.AddModule(id, data)
		}
		return w, nil
	}
	return nil, fmt.Errorf("backend %s: unknown type %q", b.ID, b.Type)
}
