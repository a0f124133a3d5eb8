// Package registry maps friction categories to the detector responsible
// for them.
//
// The registry is populated once at startup and validated before the
// orchestrator runs: an unregistered category is a configuration error
// surfaced then, never at run time.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/frictiond/internal/detector"
	"github.com/fyrsmithlabs/frictiond/internal/friction"
)

// Errors for registry operations.
var (
	ErrInvalidCategory    = errors.New("invalid friction category")
	ErrDuplicateCategory  = errors.New("category already registered")
	ErrCategoryNotFound   = errors.New("no detector registered for category")
	ErrIncompleteRegistry = errors.New("registry missing required categories")
)

// Registry is the category -> detector mapping.
type Registry struct {
	mu        sync.RWMutex
	detectors map[friction.Category]detector.Detector
	order     []friction.Category
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		detectors: make(map[friction.Category]detector.Detector),
	}
}

// Register adds a detector under its own category. Registration order is
// preserved and used as the deterministic merge order during detection.
func (r *Registry) Register(d detector.Detector) error {
	cat := d.Category()
	if !cat.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidCategory, cat)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[cat]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCategory, cat)
	}
	r.detectors[cat] = d
	r.order = append(r.order, cat)
	return nil
}

// Lookup returns the detector for a category. After Validate has passed
// for the categories a deployment uses, lookups for those categories are
// total.
func (r *Registry) Lookup(cat friction.Category) (detector.Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.detectors[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, cat)
	}
	return d, nil
}

// Detectors returns all registered detectors in registration order.
func (r *Registry) Detectors() []detector.Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]detector.Detector, 0, len(r.order))
	for _, cat := range r.order {
		out = append(out, r.detectors[cat])
	}
	return out
}

// Categories returns the registered categories in registration order.
func (r *Registry) Categories() []friction.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]friction.Category, len(r.order))
	copy(out, r.order)
	return out
}

// Validate confirms every required category has a detector. Call at
// startup; the system must refuse to run with an incomplete registry.
func (r *Registry) Validate(required []friction.Category) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []friction.Category
	for _, cat := range required {
		if _, ok := r.detectors[cat]; !ok {
			missing = append(missing, cat)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrIncompleteRegistry, missing)
	}
	return nil
}
