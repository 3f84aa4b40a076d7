package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Cache is the request-scoped view of the datastore: every instance an
// action has already produced in this batch overlays the persisted state,
// so later actions and relation handling see the batch as if it had been
// written. A Cache is built fresh per attempt and discarded on retry.
type Cache struct {
	source Source

	mu      sync.Mutex
	changed map[string]map[string]any
	created map[string]bool
	deleted map[string]bool
	locked  map[string]int
	touched map[string]bool
}

func NewCache(source Source) *Cache {
	return &Cache{
		source:  source,
		changed: map[string]map[string]any{},
		created: map[string]bool{},
		deleted: map[string]bool{},
		locked:  map[string]int{},
		touched: map[string]bool{},
	}
}

// Apply merges the given field values into the overlay for id. A nil field
// value marks the field as cleared. create records that the model does not
// exist in the persisted state yet.
func (c *Cache) Apply(id fqid.FQID, fields map[string]any, create bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.changed[id.String()]
	if m == nil {
		m = map[string]any{}
		c.changed[id.String()] = m
	}
	for k, v := range fields {
		m[k] = v
	}
	if create {
		c.created[id.String()] = true
	}
	c.touched[id.Collection] = true
}

// MarkDeleted removes id from the request-scoped view.
func (c *Cache) MarkDeleted(id fqid.FQID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted[id.String()] = true
	c.touched[id.Collection] = true
}

// IsDeleted reports whether id was deleted earlier in this batch.
func (c *Cache) IsDeleted(id fqid.FQID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted[id.String()]
}

// ChangedModels returns the overlay, keyed by fqid. Deleted models are not
// included. The maps are the live overlay state, callers must not mutate.
func (c *Cache) ChangedModels() map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]any, len(c.changed))
	for k, v := range c.changed {
		if !c.deleted[k] {
			out[k] = v
		}
	}
	return out
}

// LockedFields returns every fqfield read through this cache together with
// the position it was read at, for the write request's optimistic locks.
func (c *Cache) LockedFields() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.locked))
	for k, v := range c.locked {
		out[k] = v
	}
	return out
}

func (c *Cache) lock(key string, position int) {
	if position <= 0 {
		return
	}
	if old, ok := c.locked[key]; !ok || position < old {
		c.locked[key] = position
	}
}

// Get returns the named fields of id, overlay first. Models deleted in this
// batch read as absent. Fields read from the persisted state are recorded
// as locked at their read position.
func (c *Cache) Get(ctx context.Context, id fqid.FQID, fields []string) (map[string]any, error) {
	c.mu.Lock()
	key := id.String()
	if c.deleted[key] {
		c.mu.Unlock()
		return nil, httperr.NewNotFound("model %s does not exist", key)
	}
	overlay := c.changed[key]
	createdOnly := c.created[key]
	out := make(map[string]any, len(fields))
	var missing []string
	for _, f := range fields {
		if overlay != nil {
			if v, ok := overlay[f]; ok {
				if v != nil {
					out[f] = v
				}
				continue
			}
		}
		if !createdOnly {
			missing = append(missing, f)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}
	stored, position, err := c.source.Get(ctx, id, missing)
	if err != nil {
		if httperr.KindOf(err) == httperr.KindNotFound && overlay != nil {
			// Known only through the overlay, nothing persisted yet.
			return out, nil
		}
		return nil, err
	}
	c.mu.Lock()
	for _, f := range missing {
		if v, ok := stored[f]; ok && v != nil {
			out[f] = v
		}
		c.lock(key+"/"+f, position)
	}
	c.mu.Unlock()
	return out, nil
}

// GetMany fetches field slices of several collections at once, merging the
// overlay into the result the same way Get does.
func (c *Cache) GetMany(ctx context.Context, reqs []GetManyRequest) (map[string]map[int]map[string]any, error) {
	out := map[string]map[int]map[string]any{}
	var forward []GetManyRequest
	for _, req := range reqs {
		var storeIDs []int
		for _, id := range req.IDs {
			key := fqid.FQID{Collection: req.Collection, ID: id}.String()
			c.mu.Lock()
			deleted := c.deleted[key]
			created := c.created[key]
			c.mu.Unlock()
			if deleted {
				continue
			}
			if created {
				if out[req.Collection] == nil {
					out[req.Collection] = map[int]map[string]any{}
				}
				out[req.Collection][id] = map[string]any{}
				continue
			}
			storeIDs = append(storeIDs, id)
		}
		if len(storeIDs) > 0 {
			forward = append(forward, GetManyRequest{Collection: req.Collection, IDs: storeIDs, Fields: req.Fields})
		}
	}
	if len(forward) > 0 {
		stored, position, err := c.source.GetMany(ctx, forward)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		for coll, models := range stored {
			if out[coll] == nil {
				out[coll] = map[int]map[string]any{}
			}
			for id, model := range models {
				out[coll][id] = model
				for f := range model {
					c.lock(fmt.Sprintf("%s/%d/%s", coll, id, f), position)
				}
			}
		}
		c.mu.Unlock()
	}
	// Overlay pass: merge applied fields over whatever the store returned.
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, req := range reqs {
		for _, id := range req.IDs {
			key := fqid.FQID{Collection: req.Collection, ID: id}.String()
			overlay := c.changed[key]
			if overlay == nil || c.deleted[key] {
				continue
			}
			if out[req.Collection] == nil {
				out[req.Collection] = map[int]map[string]any{}
			}
			model := out[req.Collection][id]
			if model == nil {
				model = map[string]any{}
				out[req.Collection][id] = model
			}
			for _, f := range req.Fields {
				if v, ok := overlay[f]; ok {
					if v == nil {
						delete(model, f)
					} else {
						model[f] = v
					}
				}
			}
		}
	}
	return out, nil
}

// Filter evaluates f against the persisted state and then corrects the
// result set for every model the batch has changed, created or deleted.
func (c *Cache) Filter(ctx context.Context, collection string, f Filter, fields []string) (map[int]map[string]any, error) {
	want := mergeFields(fields, FieldsOf(f))
	res, position, err := c.source.Filter(ctx, collection, f, want)
	if err != nil {
		return nil, err
	}
	for _, field := range FieldsOf(f) {
		c.mu.Lock()
		c.lock(collection+"/"+field, position)
		c.mu.Unlock()
	}

	c.mu.Lock()
	var recheck []fqid.FQID
	for key := range c.changed {
		id, err := fqid.Parse(key)
		if err != nil || id.Collection != collection || c.deleted[key] {
			continue
		}
		recheck = append(recheck, id)
	}
	for key := range c.deleted {
		if id, err := fqid.Parse(key); err == nil && id.Collection == collection {
			delete(res, id.ID)
		}
	}
	c.mu.Unlock()

	for _, id := range recheck {
		model, err := c.Get(ctx, id, want)
		if err != nil {
			if httperr.KindOf(err) == httperr.KindNotFound {
				delete(res, id.ID)
				continue
			}
			return nil, err
		}
		match, err := Match(f, model)
		if err != nil {
			return nil, err
		}
		if !match {
			delete(res, id.ID)
			continue
		}
		projected := map[string]any{}
		for _, field := range fields {
			if v, ok := model[field]; ok {
				projected[field] = v
			}
		}
		res[id.ID] = projected
	}
	return res, nil
}

// Exists reports whether any model of the collection matches f, overlay
// included.
func (c *Cache) Exists(ctx context.Context, collection string, f Filter) (bool, error) {
	c.mu.Lock()
	clean := !c.touched[collection]
	c.mu.Unlock()
	if clean {
		ok, position, err := c.source.Exists(ctx, collection, f)
		if err != nil {
			return false, err
		}
		c.lockFilter(collection, f, position)
		return ok, nil
	}
	res, err := c.Filter(ctx, collection, f, nil)
	if err != nil {
		return false, err
	}
	return len(res) > 0, nil
}

// Count returns the number of matching models, overlay included.
func (c *Cache) Count(ctx context.Context, collection string, f Filter) (int, error) {
	c.mu.Lock()
	clean := !c.touched[collection]
	c.mu.Unlock()
	if clean {
		n, position, err := c.source.Count(ctx, collection, f)
		if err != nil {
			return 0, err
		}
		c.lockFilter(collection, f, position)
		return n, nil
	}
	res, err := c.Filter(ctx, collection, f, nil)
	if err != nil {
		return 0, err
	}
	return len(res), nil
}

// Min returns the smallest integer value of field among matching models, or
// nil when none match or none carry the field.
func (c *Cache) Min(ctx context.Context, collection string, f Filter, field string) (*int, error) {
	return c.aggregate(ctx, collection, f, field, true)
}

// Max is the counterpart of Min.
func (c *Cache) Max(ctx context.Context, collection string, f Filter, field string) (*int, error) {
	return c.aggregate(ctx, collection, f, field, false)
}

func (c *Cache) aggregate(ctx context.Context, collection string, f Filter, field string, min bool) (*int, error) {
	c.mu.Lock()
	clean := !c.touched[collection]
	c.mu.Unlock()
	if clean {
		var v *int
		var position int
		var err error
		if min {
			v, position, err = c.source.Min(ctx, collection, f, field)
		} else {
			v, position, err = c.source.Max(ctx, collection, f, field)
		}
		if err != nil {
			return nil, err
		}
		c.lockFilter(collection, f, position)
		c.mu.Lock()
		c.lock(collection+"/"+field, position)
		c.mu.Unlock()
		return v, nil
	}
	res, err := c.Filter(ctx, collection, f, []string{field})
	if err != nil {
		return nil, err
	}
	var best *int
	for _, model := range res {
		n, ok := asInt(model[field])
		if !ok {
			continue
		}
		if best == nil || (min && n < *best) || (!min && n > *best) {
			v := n
			best = &v
		}
	}
	return best, nil
}

func (c *Cache) lockFilter(collection string, f Filter, position int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, field := range FieldsOf(f) {
		c.lock(collection+"/"+field, position)
	}
}

// ReserveIDs allocates the next amount ids of a collection from the store.
func (c *Cache) ReserveIDs(ctx context.Context, collection string, amount int) ([]int, error) {
	return c.source.ReserveIDs(ctx, collection, amount)
}

func mergeFields(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range a {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range b {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
