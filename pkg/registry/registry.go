// Package registry implements the Plugin Registry: the authoritative,
// read-heavy store mapping a plugin name to its (descriptor, image) pair.
package registry

import (
	"os"
	"sync"

	"github.com/kaori-seasons/edgesched/pkg/apperr"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

// entry pairs a descriptor with its image and tracks in-flight executions
// so the Executor/Scheduler can enforce per-plugin max_concurrent without a
// second lock.
type entry struct {
	descriptor types.PluginDescriptor
	image      types.PluginImage
	inFlight   int
}

// Registry is safe for concurrent use. Reads (lookup/list) take the read
// lock; register/unregister/in-flight accounting take the write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register validates and stores (desc, img), replacing any prior entry
// under the same name. There is no versioned history.
func (r *Registry) Register(desc types.PluginDescriptor, img types.PluginImage) error {
	if desc.Name == "" {
		return apperr.New(apperr.KindValidation, "plugin name must not be empty")
	}
	if desc.Timeout <= 0 {
		return apperr.New(apperr.KindValidation, "plugin timeout must be positive").WithContext("name", desc.Name)
	}
	if desc.MaxConcurrent <= 0 {
		return apperr.New(apperr.KindValidation, "plugin max_concurrent must be positive").WithContext("name", desc.Name)
	}
	if len(img.Command) == 0 {
		return apperr.New(apperr.KindValidation, "plugin command must not be empty").WithContext("name", desc.Name)
	}
	if img.RootfsPath != "" {
		if _, err := os.Stat(img.RootfsPath); err != nil {
			return apperr.Wrap(apperr.KindValidation, "rootfs_path does not exist on host", err).WithContext("name", desc.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[desc.Name] = &entry{descriptor: desc, image: img}
	return nil
}

// Unregister removes name, if present. Always succeeds.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Lookup returns the (descriptor, image) pair for name, or ok=false.
func (r *Registry) Lookup(name string) (types.PluginDescriptor, types.PluginImage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return types.PluginDescriptor{}, types.PluginImage{}, false
	}
	return e.descriptor, e.image, true
}

// List returns all registered descriptors.
func (r *Registry) List() []types.PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.PluginDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.descriptor)
	}
	return out
}

// ListByTag filters List to descriptors carrying tag.
func (r *Registry) ListByTag(tag string) []types.PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.PluginDescriptor, 0)
	for _, e := range r.entries {
		for _, t := range e.descriptor.Tags {
			if t == tag {
				out = append(out, e.descriptor)
				break
			}
		}
	}
	return out
}

// InFlight returns the current in-flight execution count for name.
func (r *Registry) InFlight(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.inFlight
	}
	return 0
}

// TryAcquire increments name's in-flight counter if doing so would not
// exceed its descriptor's MaxConcurrent. Returns false (no state change) if
// the plugin is unknown or at capacity.
func (r *Registry) TryAcquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	if e.inFlight >= e.descriptor.MaxConcurrent {
		return false
	}
	e.inFlight++
	return true
}

// Release decrements name's in-flight counter. No-op if already at zero or
// name is unknown.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok && e.inFlight > 0 {
		e.inFlight--
	}
}
