package registry

import (
	"github.com/agl-services/applaunchd/internal/shared/types"
)

// Registry is the immutable-after-load catalog of known applications.
// Records are added once at construction and only their activation state
// mutates afterwards, so lookups need no locking.
type Registry struct {
	apps  []*types.App
	index map[string]*types.App
}

// New builds a registry from an ordered sequence of records. Later
// duplicates of an application ID are dropped in favor of the first
// occurrence, preserving load order.
func New(apps []*types.App) *Registry {
	r := &Registry{
		index: make(map[string]*types.App, len(apps)),
	}
	for _, app := range apps {
		if _, exists := r.index[app.ID]; exists {
			continue
		}
		r.apps = append(r.apps, app)
		r.index[app.ID] = app
	}
	return r
}

// Find returns the record for the given application ID.
func (r *Registry) Find(appID string) (*types.App, bool) {
	app, ok := r.index[appID]
	return app, ok
}

// List returns catalog entries in load order. With graphicalOnly set,
// non-graphical applications are filtered out.
func (r *Registry) List(graphicalOnly bool) []types.Entry {
	entries := make([]types.Entry, 0, len(r.apps))
	for _, app := range r.apps {
		if graphicalOnly && !app.Graphical {
			continue
		}
		entries = append(entries, types.Entry{
			ID:       app.ID,
			Name:     app.Name,
			IconPath: app.IconPath,
		})
	}
	return entries
}

// Len returns the number of known applications.
func (r *Registry) Len() int {
	return len(r.apps)
}
