package connectors

import (
	"sort"

	"github.com/pkg/errors"
)

// Registry maps service types to connector implementations. It is built
// once at startup and passed by reference to the components that need
// lookups; there is deliberately no process-wide registry.
type Registry struct {
	byType map[string]Connector
}

func NewRegistry(available ...Connector) (*Registry, error) {
	r := &Registry{byType: make(map[string]Connector, len(available))}
	for _, connector := range available {
		if err := r.Register(connector); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(connector Connector) error {
	serviceType := connector.ServiceType()
	if serviceType == "" {
		return errors.New("connector has empty service type")
	}
	if _, exists := r.byType[serviceType]; exists {
		return errors.Errorf("connector for service type %q already registered", serviceType)
	}
	r.byType[serviceType] = connector
	return nil
}

// Lookup returns the connector registered for serviceType.
func (r *Registry) Lookup(serviceType string) (Connector, bool) {
	connector, ok := r.byType[serviceType]
	return connector, ok
}

// ServiceTypes returns all registered service types, sorted for stable
// iteration order.
func (r *Registry) ServiceTypes() []string {
	types := make([]string, 0, len(r.byType))
	for serviceType := range r.byType {
		types = append(types, serviceType)
	}
	sort.Strings(types)
	return types
}
