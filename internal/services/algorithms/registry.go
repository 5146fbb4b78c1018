package algorithms

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/domain/service"
)

// Registry maps algorithm identifiers to implementations.
type Registry struct {
	mu    sync.RWMutex
	algos map[string]service.Algorithm
}

// NewRegistry registers the given algorithms under their Name().
func NewRegistry(algos ...service.Algorithm) *Registry {
	r := &Registry{algos: make(map[string]service.Algorithm, len(algos))}
	for _, a := range algos {
		r.Register(a)
	}
	return r
}

// Builtin returns a registry with every in-process model kind.
func Builtin() *Registry {
	return NewRegistry(NewArima(), NewETS(), NewTheta(), NewNaive())
}

// Register adds or replaces an algorithm.
func (r *Registry) Register(a service.Algorithm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.algos[strings.ToLower(a.Name())] = a
}

// Lookup returns models.ErrUnknownModel for unregistered identifiers.
func (r *Registry) Lookup(id string) (service.Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.algos[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownModel, id)
	}
	return a, nil
}

// Names lists registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.algos))
	for k := range r.algos {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate fails on the first descriptor whose algorithm is not registered.
func (r *Registry) Validate(descs []models.ModelDescriptor) error {
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("model %q configured twice", d.Name)
		}
		seen[d.Name] = struct{}{}
		if _, err := r.Lookup(d.AlgorithmID()); err != nil {
			return fmt.Errorf("model %q: %w (registered: %s)", d.Name, err, strings.Join(r.Names(), ", "))
		}
	}
	return nil
}
