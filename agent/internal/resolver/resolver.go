// Package resolver maps configured group and component names to status page
// component ids, creating whatever does not exist yet.
//
// Group ids are cached for the life of the process; the cache is never
// invalidated, so a group deleted on the status page while the agent runs is
// not recreated until restart. Component ids are not cached: each configured
// component is resolved exactly once at startup.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pilot-net/cachet-agent/agent/internal/cachet"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

// API is the part of the status page client the resolver needs.
type API interface {
	ListGroups(ctx context.Context, name string) ([]cachet.Group, error)
	CreateGroup(ctx context.Context, name string) (*cachet.Group, error)
	ListComponents(ctx context.Context, name string, groupID int) ([]cachet.Component, error)
	CreateComponent(ctx context.Context, req cachet.CreateComponentRequest) (*cachet.Component, error)
}

// Resolver performs get-or-create for groups and components.
type Resolver struct {
	api    API
	logger *slog.Logger

	// groupCache maps group name to id. mu is held across the whole
	// get-or-create of a group so a name is never created twice.
	mu         sync.Mutex
	groupCache map[string]int
}

// New creates a resolver with an empty group cache.
func New(api API, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		api:        api,
		logger:     logger.With("component", "resolver"),
		groupCache: make(map[string]int),
	}
}

// ResolveComponent returns the id of component inside group, creating the
// group and the component as needed. New components start Operational.
func (r *Resolver) ResolveComponent(ctx context.Context, group, component string) (int, error) {
	if group == "" {
		return 0, &types.ConfigError{Msg: "group name is empty"}
	}
	if component == "" {
		return 0, &types.ConfigError{Msg: "component name is empty"}
	}

	groupID, err := r.ResolveGroup(ctx, group)
	if err != nil {
		return 0, err
	}

	existing, err := r.api.ListComponents(ctx, component, groupID)
	if err != nil {
		return 0, &types.ResolutionError{Group: group, Component: component, Err: fmt.Errorf("listing components: %w", err)}
	}
	for _, c := range existing {
		if c.Name == component && c.GroupID == groupID {
			r.logger.Debug("component exists", "group", group, "component", component, "id", c.ID)
			return c.ID, nil
		}
	}

	operational, err := cachet.WireStatus(types.StatusOperational)
	if err != nil {
		return 0, err
	}
	created, err := r.api.CreateComponent(ctx, cachet.CreateComponentRequest{
		Name:    component,
		Status:  operational,
		GroupID: groupID,
	})
	if err != nil {
		return 0, &types.ResolutionError{Group: group, Component: component, Err: fmt.Errorf("creating component: %w", err)}
	}

	r.logger.Info("created component", "group", group, "component", component, "id", created.ID)
	return created.ID, nil
}

// ResolveGroup returns the id of the named group, consulting the cache first.
func (r *Resolver) ResolveGroup(ctx context.Context, name string) (int, error) {
	if name == "" {
		return 0, &types.ConfigError{Msg: "group name is empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.groupCache[name]; ok {
		return id, nil
	}

	existing, err := r.api.ListGroups(ctx, name)
	if err != nil {
		return 0, &types.ResolutionError{Group: name, Err: fmt.Errorf("listing groups: %w", err)}
	}
	for _, g := range existing {
		if g.Name == name {
			r.groupCache[name] = g.ID
			r.logger.Debug("group exists", "group", name, "id", g.ID)
			return g.ID, nil
		}
	}

	created, err := r.api.CreateGroup(ctx, name)
	if err != nil {
		return 0, &types.ResolutionError{Group: name, Err: fmt.Errorf("creating group: %w", err)}
	}
	r.groupCache[name] = created.ID

	r.logger.Info("created group", "group", name, "id", created.ID)
	return created.ID, nil
}

// CachedGroups returns a snapshot of the group cache.
func (r *Resolver) CachedGroups() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.groupCache))
	for k, v := range r.groupCache {
		out[k] = v
	}
	return out
}
