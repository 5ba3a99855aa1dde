package refs

import (
	"context"
	"fmt"

	"storyline/internal/domain"
)

// Kind names a reference collection.
type Kind string

const (
	KindProject Kind = "project"
	KindEpic    Kind = "epic"
	KindLabel   Kind = "label"
)

// path maps a kind to its collection endpoint.
func (k Kind) path() (string, error) {
	switch k {
	case KindProject:
		return "projects", nil
	case KindEpic:
		return "epics", nil
	case KindLabel:
		return "labels", nil
	default:
		return "", fmt.Errorf("unknown reference kind %q", k)
	}
}

// Lister is the slice of the transport the cache needs.
type Lister interface {
	ListResources(ctx context.Context, path string) ([]map[string]any, error)
	Workflows(ctx context.Context) ([]domain.Workflow, error)
}

// Cache memoizes reference collections for one session. It is owned by the
// session context, never a process-wide singleton, and is torn down with it.
// A failed fetch propagates without poisoning the cache.
type Cache struct {
	Source Lister

	pairs     map[Kind]Pairs
	workflows []domain.Workflow
	haveWfs   bool
}

// NewCache returns an empty cache over the given source.
func NewCache(source Lister) *Cache {
	return &Cache{Source: source, pairs: make(map[Kind]Pairs)}
}

// Get returns the memoized collection for kind, fetching on first call.
func (c *Cache) Get(ctx context.Context, kind Kind) (Pairs, error) {
	if ps, ok := c.pairs[kind]; ok {
		return ps, nil
	}
	return c.fetch(ctx, kind)
}

// Refresh forces a refetch and replaces the cached collection.
func (c *Cache) Refresh(ctx context.Context, kind Kind) (Pairs, error) {
	return c.fetch(ctx, kind)
}

func (c *Cache) fetch(ctx context.Context, kind Kind) (Pairs, error) {
	path, err := kind.path()
	if err != nil {
		return nil, err
	}
	items, err := c.Source.ListResources(ctx, path)
	if err != nil {
		return nil, err
	}
	pairs, err := Extract(items, FieldOpts{})
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	c.pairs[kind] = pairs
	return pairs, nil
}

// Workflows returns the nested workflow structure, fetched once per session.
func (c *Cache) Workflows(ctx context.Context) ([]domain.Workflow, error) {
	if c.haveWfs {
		return c.workflows, nil
	}
	wfs, err := c.Source.Workflows(ctx)
	if err != nil {
		return nil, err
	}
	c.workflows = wfs
	c.haveWfs = true
	return wfs, nil
}

// RefreshWorkflows refetches the workflow structure explicitly.
func (c *Cache) RefreshWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	c.haveWfs = false
	c.workflows = nil
	return c.Workflows(ctx)
}
