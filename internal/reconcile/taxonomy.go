package reconcile

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enforcement-sync/pkg/ticketing"
)

// TaxonomyIDs are the resolved permit type, subtype and status IDs. Zero
// means the name was blank.
type TaxonomyIDs struct {
	TypeID    int64
	SubtypeID int64
	StatusID  int64
}

type subtypeKey struct {
	parentID int64
	name     string
}

// TaxonomyCache maps permit type, subtype and status names to ticketing IDs.
// It is owned by one run, loads lazily and creates missing entries. Safe for
// concurrent use.
type TaxonomyCache struct {
	client ticketing.Client

	mu       sync.Mutex
	loaded   bool
	types    map[string]int64
	subtypes map[subtypeKey]int64
	statuses map[string]int64
}

// NewTaxonomyCache creates an empty cache backed by client.
func NewTaxonomyCache(client ticketing.Client) *TaxonomyCache {
	return &TaxonomyCache{client: client}
}

// Invalidate drops every cached ID; the next Resolve reloads.
func (c *TaxonomyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.types, c.subtypes, c.statuses = nil, nil, nil
}

// Resolve returns IDs for the given names, creating any that do not exist.
// Names are matched case-insensitively. A subtype requires a type.
func (c *TaxonomyCache) Resolve(ctx context.Context, typeName, subtypeName, statusName string) (TaxonomyIDs, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids TaxonomyIDs
	if err := c.load(ctx); err != nil {
		return ids, err
	}

	var err error
	if name := taxonomyName(typeName); name != "" {
		if ids.TypeID, err = c.typeID(ctx, name); err != nil {
			return ids, err
		}
		if sub := taxonomyName(subtypeName); sub != "" {
			if ids.SubtypeID, err = c.subtypeID(ctx, ids.TypeID, sub); err != nil {
				return ids, err
			}
		}
	}
	if name := taxonomyName(statusName); name != "" {
		if ids.StatusID, err = c.statusID(ctx, name); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

func (c *TaxonomyCache) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	types, err := c.client.ListPermitTypes(ctx)
	if err != nil {
		return eris.Wrap(err, "taxonomy: list permit types")
	}
	statuses, err := c.client.ListPermitStatuses(ctx)
	if err != nil {
		return eris.Wrap(err, "taxonomy: list permit statuses")
	}

	c.types = make(map[string]int64)
	c.subtypes = make(map[subtypeKey]int64)
	c.statuses = make(map[string]int64, len(statuses))
	for _, t := range types {
		if t.ParentID == 0 {
			c.types[taxonomyName(t.Name)] = t.ID
			continue
		}
		c.subtypes[subtypeKey{t.ParentID, taxonomyName(t.Name)}] = t.ID
	}
	for _, s := range statuses {
		c.statuses[taxonomyName(s.Name)] = s.ID
	}
	c.loaded = true
	return nil
}

func (c *TaxonomyCache) typeID(ctx context.Context, name string) (int64, error) {
	if id, ok := c.types[name]; ok {
		return id, nil
	}
	created, err := c.client.CreatePermitType(ctx, name, 0)
	if err != nil {
		return 0, eris.Wrapf(err, "taxonomy: create permit type %q", name)
	}
	c.types[name] = created.ID
	return created.ID, nil
}

func (c *TaxonomyCache) subtypeID(ctx context.Context, parentID int64, name string) (int64, error) {
	k := subtypeKey{parentID, name}
	if id, ok := c.subtypes[k]; ok {
		return id, nil
	}
	created, err := c.client.CreatePermitType(ctx, name, parentID)
	if err != nil {
		return 0, eris.Wrapf(err, "taxonomy: create permit subtype %q", name)
	}
	c.subtypes[k] = created.ID
	return created.ID, nil
}

func (c *TaxonomyCache) statusID(ctx context.Context, name string) (int64, error) {
	if id, ok := c.statuses[name]; ok {
		return id, nil
	}
	created, err := c.client.CreatePermitStatus(ctx, name)
	if err != nil {
		return 0, eris.Wrapf(err, "taxonomy: create permit status %q", name)
	}
	c.statuses[name] = created.ID
	return created.ID, nil
}

func taxonomyName(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
