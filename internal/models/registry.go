// internal/models/registry.go
package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/edgeinfer/internal/backend"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry catalogs model metadata and tracks which models are loaded on
// which backend. It never owns model weights; backends do.
type Registry struct {
	mu        sync.RWMutex
	backends  *backend.Registry
	models    map[string]map[string]*Metadata // id -> version -> metadata
	instances map[string]*Instance
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistry creates a model registry that resolves backends through
// backends
func NewRegistry(backends *backend.Registry, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backends == nil {
		backends = backend.Default()
	}
	return &Registry{
		backends:  backends,
		models:    make(map[string]map[string]*Metadata),
		instances: make(map[string]*Instance),
		logger:    logger,
		now:       time.Now,
	}
}

// Register stores metadata by (ID, Version). Registering the same version
// again with a different checksum fails; an identical re-registration only
// touches UpdatedAt.
func (r *Registry) Register(md Metadata) error {
	if err := md.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	versions, ok := r.models[md.ID]
	if !ok {
		versions = make(map[string]*Metadata)
		r.models[md.ID] = versions
	}

	if existing, ok := versions[md.Version]; ok {
		if existing.Checksum != md.Checksum {
			return fmt.Errorf("%w: %s@%s registered with %q, got %q",
				ErrChecksumMismatch, md.ID, md.Version, existing.Checksum, md.Checksum)
		}
		existing.UpdatedAt = now
		return nil
	}

	stored := md
	stored.Tags = append([]string(nil), md.Tags...)
	stored.Categories = append([]string(nil), md.Categories...)
	stored.BackendRequirements.Supported = append([]string(nil), md.BackendRequirements.Supported...)
	stored.BackendRequirements.Features = append([]string(nil), md.BackendRequirements.Features...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	versions[md.Version] = &stored

	r.logger.Info("model registered",
		zap.String("model", md.ID),
		zap.String("version", md.Version),
		zap.String("format", md.Format))
	return nil
}

// Get returns the metadata for (id, version)
func (r *Registry) Get(id, version string) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(id, version)
}

// Latest returns the highest registered version of id
func (r *Registry) Latest(id string) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.models[id]
	if !ok || len(versions) == 0 {
		return nil, &ModelNotFoundError{ID: id}
	}
	var best *Metadata
	for _, md := range versions {
		if best == nil || compareVersions(md.Version, best.Version) > 0 {
			best = md
		}
	}
	cp := *best
	return &cp, nil
}

// List returns every registered model ordered by id then version
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Metadata
	for _, versions := range r.models {
		for _, md := range versions {
			out = append(out, *md)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return compareVersions(out[i].Version, out[j].Version) < 0
	})
	return out
}

// LoadModel asks backendID to load (id, version) and returns the new
// instance id
func (r *Registry) LoadModel(ctx context.Context, id, version, backendID string) (string, error) {
	md, err := r.Get(id, version)
	if err != nil {
		return "", err
	}
	b, ok := r.backends.Get(backendID)
	if !ok {
		return "", backend.ErrUnavailable(backendID, "not registered")
	}
	if !md.SupportsBackend(backendID) {
		return "", fmt.Errorf("%w: %s@%s on %s", ErrIncompatibleBackend, id, version, backendID)
	}
	if !b.IsAvailable() {
		return "", backend.ErrUnavailable(backendID, "backend reports unavailable")
	}

	loaded, err := b.LoadModel(ctx, id)
	if err != nil {
		r.logger.Warn("model load failed",
			zap.String("model", id),
			zap.String("backend", backendID),
			zap.Error(err))
		return "", fmt.Errorf("load %s@%s on %s: %w", id, version, backendID, err)
	}

	now := r.now()
	inst := &Instance{
		ID:        "inst_" + uuid.New().String(),
		ModelID:   id,
		Version:   version,
		BackendID: backendID,
		LoadedAt:  now,
		LastUsed:  now,
	}
	if loaded != nil {
		inst.MemoryUsage = loaded.MemoryUsage
	}

	r.mu.Lock()
	r.instances[inst.ID] = inst
	r.mu.Unlock()

	r.logger.Info("model loaded",
		zap.String("instance", inst.ID),
		zap.String("model", id),
		zap.String("version", version),
		zap.String("backend", backendID))
	return inst.ID, nil
}

// UnloadModel destroys an instance. The backend is told to evict the model
// once no other instance on it still references the model.
func (r *Registry) UnloadModel(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	inst, ok := r.instances[instanceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	delete(r.instances, instanceID)
	shared := r.sharedLocked(inst.BackendID, inst.ModelID)
	r.mu.Unlock()

	r.logger.Info("model unloaded",
		zap.String("instance", instanceID),
		zap.String("backend", inst.BackendID))

	if shared {
		return nil
	}
	b, ok := r.backends.Get(inst.BackendID)
	if !ok {
		return nil
	}
	if err := b.UnloadModel(ctx, inst.ModelID); err != nil && !errors.Is(err, backend.ErrModelNotLoaded) {
		return fmt.Errorf("unload %s from %s: %w", inst.ModelID, inst.BackendID, err)
	}
	return nil
}

// Instance returns one instance by id
func (r *Registry) Instance(instanceID string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Instances lists loaded instances, restricted to backendID when it is not
// empty, ordered by load time
func (r *Registry) Instances(backendID string) []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		if backendID != "" && inst.BackendID != backendID {
			continue
		}
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LoadedAt.Equal(out[j].LoadedAt) {
			return out[i].LoadedAt.Before(out[j].LoadedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Infer runs one inference through an instance
func (r *Registry) Infer(ctx context.Context, instanceID string, input backend.Input) (*backend.Result, error) {
	inst, ok := r.Instance(instanceID)
	if !ok {
		return nil, backend.ErrNotLoaded("", instanceID)
	}
	b, ok := r.backends.Get(inst.BackendID)
	if !ok {
		return nil, backend.ErrUnavailable(inst.BackendID, "not registered")
	}

	res, err := b.RunInference(ctx, inst.ModelID, input)

	r.mu.Lock()
	if live, ok := r.instances[instanceID]; ok {
		live.LastUsed = r.now()
		if err == nil {
			live.InferenceCount++
		}
	}
	r.mu.Unlock()

	return res, err
}

// DropBackend forgets every instance owned by backendID, for use when the
// backend shuts down. It returns the number of instances dropped.
func (r *Registry) DropBackend(backendID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, inst := range r.instances {
		if inst.BackendID == backendID {
			delete(r.instances, id)
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Info("backend instances dropped",
			zap.String("backend", backendID),
			zap.Int("instances", dropped))
	}
	return dropped
}

func (r *Registry) lookup(id, version string) (*Metadata, error) {
	versions, ok := r.models[id]
	if !ok {
		return nil, &ModelNotFoundError{ID: id, Version: version}
	}
	md, ok := versions[version]
	if !ok {
		return nil, &ModelNotFoundError{ID: id, Version: version}
	}
	cp := *md
	return &cp, nil
}

func (r *Registry) sharedLocked(backendID, modelID string) bool {
	for _, inst := range r.instances {
		if inst.BackendID == backendID && inst.ModelID == modelID {
			return true
		}
	}
	return false
}

// compareVersions orders dotted numeric versions ("1.10.0" > "1.9"), falling
// back to string order for non-numeric parts
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xn, xerr := strconv.Atoi(x)
		yn, yerr := strconv.Atoi(y)
		if x == "" {
			xn, xerr = 0, nil
		}
		if y == "" {
			yn, yerr = 0, nil
		}
		switch {
		case xerr == nil && yerr == nil:
			if xn != yn {
				if xn < yn {
					return -1
				}
				return 1
			}
		case x != y:
			return strings.Compare(x, y)
		}
	}
	return 0
}
