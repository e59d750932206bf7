package integration

import (
	"fmt"
	"sync"

	"dockit/app/pkg/types"
)

// Registry holds one integration per source, selected at runtime. The
// aggregator only ever sees the SourceIntegration contract, so adding a
// service means registering it here and nothing else.
type Registry struct {
	mu           sync.RWMutex
	integrations map[types.TaskSource]types.SourceIntegration
}

func NewRegistry() *Registry {
	return &Registry{integrations: make(map[types.TaskSource]types.SourceIntegration)}
}

func (r *Registry) Register(integ types.SourceIntegration) error {
	if integ == nil {
		return fmt.Errorf("integration is required")
	}
	source := integ.Source()
	if _, known := types.ParseSource(string(source)); !known {
		return fmt.Errorf("unknown source: %s", source)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.integrations[source]; exists {
		return fmt.Errorf("integration already registered for source: %s", source)
	}
	r.integrations[source] = integ
	return nil
}

func (r *Registry) Get(source types.TaskSource) (types.SourceIntegration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	integ, exists := r.integrations[source]
	return integ, exists
}

// All returns every registered integration in the stable source order.
func (r *Registry) All() []types.SourceIntegration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]types.SourceIntegration, 0, len(r.integrations))
	for _, source := range types.Sources() {
		if integ, exists := r.integrations[source]; exists {
			items = append(items, integ)
		}
	}
	return items
}

// Connected filters All down to integrations whose auth state is live.
func (r *Registry) Connected() []types.SourceIntegration {
	all := r.All()
	items := make([]types.SourceIntegration, 0, len(all))
	for _, integ := range all {
		if integ.IsConnected() {
			items = append(items, integ)
		}
	}
	return items
}
