package constraint

import "sort"

// Resource is a named capacity available to plan steps. Resources are
// registered once before scheduling and treated as read-only during conflict
// resolution; re-registering a name overwrites the previous entry.
type Resource struct {
	Name     string         `json:"name"`
	Capacity float64        `json:"capacity"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Claim is one step's demand on a resource.
type Claim struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

// Registry holds the resources known to the solver. It is written during
// setup and only read afterwards; resolution runs synchronously within a
// single planning pass, so no locking is needed.
type Registry struct {
	resources map[string]Resource
}

// NewRegistry creates an empty resource registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]Resource)}
}

// Register adds a resource, overwriting any previous registration under the
// same name.
func (r *Registry) Register(res Resource) {
	r.resources[res.Name] = res
}

// Get returns the resource registered under name.
func (r *Registry) Get(name string) (Resource, bool) {
	res, ok := r.resources[name]
	return res, ok
}

// Names returns the registered resource names in sorted order, so iteration
// over the registry is deterministic.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
