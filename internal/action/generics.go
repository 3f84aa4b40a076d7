package action

import (
	"context"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/relation"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// CreateExecutor is the generic create base: validate, reserve an id,
// apply defaults, resolve relations in shortcut mode, emit the create
// event plus the induced peer updates, publish into the overlay.
func CreateExecutor(collection string) func(ctx context.Context, e *Env, instance map[string]any) (map[string]any, error) {
	return func(ctx context.Context, e *Env, instance map[string]any) (map[string]any, error) {
		if _, ok := instance["id"]; ok {
			return nil, httperr.NewSchemaViolation("data must not contain {'id'} properties")
		}
		applyDefaults(e.Reg, collection, instance)
		if err := validateFields(e.Reg, collection, instance); err != nil {
			return nil, err
		}
		if err := checkRequired(e, collection, instance); err != nil {
			return nil, err
		}
		ids, err := e.Cache.ReserveIDs(ctx, collection, 1)
		if err != nil {
			return nil, err
		}
		id := fqidOf(collection, ids[0])
		instance["id"] = id.ID

		updates, err := e.Resolver.Resolve(ctx, id, withoutID(instance), true)
		if err != nil {
			return nil, err
		}

		fields := withoutID(instance)
		for _, u := range updates {
			if u.FQID == id {
				fields[u.Field] = u.Value
			}
		}
		dropNils(fields)
		e.sink.add(datastore.Event{Type: datastore.EventCreate, FQID: id.String(), Fields: copyFields(fields)})
		e.Cache.Apply(id, fields, true)
		applyPeerUpdates(e, id, updates)
		return map[string]any{"id": id.ID}, nil
	}
}

// UpdateExecutor is the generic update base. Only fields that differ from
// the current state end up in the event.
func UpdateExecutor(collection string) func(ctx context.Context, e *Env, instance map[string]any) (map[string]any, error) {
	return func(ctx context.Context, e *Env, instance map[string]any) (map[string]any, error) {
		idValue, err := instanceID(instance)
		if err != nil {
			return nil, err
		}
		id := fqidOf(collection, idValue)
		if err := requireExists(ctx, e, id); err != nil {
			return nil, err
		}
		if err := validateFields(e.Reg, collection, instance); err != nil {
			return nil, err
		}

		names := fieldNames(instance)
		current, err := e.Cache.Get(ctx, id, names)
		if err != nil {
			return nil, err
		}
		changed := map[string]any{}
		for _, name := range names {
			value := instance[name]
			if value == nil {
				if _, had := current[name]; had {
					changed[name] = nil
				}
				continue
			}
			if !sameValue(current[name], value) {
				changed[name] = value
			}
		}
		if len(changed) == 0 {
			return map[string]any{"id": id.ID}, nil
		}

		updates, err := e.Resolver.Resolve(ctx, id, changed, false)
		if err != nil {
			return nil, err
		}
		for _, u := range updates {
			if u.FQID == id {
				changed[u.Field] = u.Value
			}
		}
		e.sink.add(datastore.Event{Type: datastore.EventUpdate, FQID: id.String(), Fields: copyFields(changed)})
		e.Cache.Apply(id, changed, false)
		applyPeerUpdates(e, id, updates)
		return map[string]any{"id": id.ID}, nil
	}
}

// DeleteExecutor is the generic delete base: honor the on-delete policies,
// cascade through the registered delete actions of the peer collections,
// detach the rest, then emit the delete event.
func DeleteExecutor(collection string) func(ctx context.Context, e *Env, instance map[string]any) (map[string]any, error) {
	return func(ctx context.Context, e *Env, instance map[string]any) (map[string]any, error) {
		idValue, err := instanceID(instance)
		if err != nil {
			return nil, err
		}
		id := fqidOf(collection, idValue)
		if err := requireExists(ctx, e, id); err != nil {
			return nil, err
		}

		plan, err := e.Resolver.PlanDelete(ctx, id)
		if err != nil {
			return nil, err
		}

		// The model leaves the overlay before the cascade so peers do not
		// try to detach from it.
		e.Cache.MarkDeleted(id)

		for _, peer := range plan.Cascade {
			if e.Cache.IsDeleted(peer) {
				continue
			}
			if _, err := e.ExecuteOther(ctx, peer.Collection+".delete", []map[string]any{{"id": peer.ID}}); err != nil {
				return nil, err
			}
		}
		for _, u := range plan.Detach {
			if e.Cache.IsDeleted(u.FQID) {
				continue
			}
			e.sink.add(datastore.Event{Type: datastore.EventUpdate, FQID: u.FQID.String(), Fields: map[string]any{u.Field: u.Value}})
			e.Cache.Apply(u.FQID, map[string]any{u.Field: u.Value}, false)
		}
		e.sink.add(datastore.Event{Type: datastore.EventDelete, FQID: id.String()})
		return map[string]any{"id": id.ID}, nil
	}
}

// applyPeerUpdates emits and applies the resolver's peer-side updates.
// Updates addressed to the mutated model itself were already folded into
// its own event.
func applyPeerUpdates(e *Env, self fqid.FQID, updates []relation.Update) {
	for _, u := range updates {
		if u.FQID == self {
			continue
		}
		e.sink.add(datastore.Event{Type: datastore.EventUpdate, FQID: u.FQID.String(), Fields: map[string]any{u.Field: u.Value}})
		e.Cache.Apply(u.FQID, map[string]any{u.Field: u.Value}, false)
	}
}

// checkRequired enforces required fields on creation after defaults and
// hooks ran.
func checkRequired(e *Env, collection string, instance map[string]any) error {
	coll, _ := e.Reg.Collection(collection)
	for _, field := range coll.Fields() {
		if !field.Required || field.Name == "id" {
			continue
		}
		if v, ok := instance[field.Name]; !ok || v == nil {
			return httperr.NewValidation("%s is required to create a %s", field.Name, collection)
		}
	}
	return nil
}

func withoutID(instance map[string]any) map[string]any {
	out := make(map[string]any, len(instance))
	for k, v := range instance {
		if k != "id" {
			out[k] = v
		}
	}
	return out
}

func fieldNames(instance map[string]any) []string {
	out := make([]string, 0, len(instance))
	for name := range instance {
		if name != "id" {
			out = append(out, name)
		}
	}
	return out
}

func dropNils(fields map[string]any) {
	for k, v := range fields {
		if v == nil {
			delete(fields, k)
		}
	}
}

func sameValue(a, b any) bool {
	if an, ok := intOf(a); ok {
		if bn, ok := intOf(b); ok {
			return an == bn
		}
		return false
	}
	switch bv := b.(type) {
	case string:
		av, ok := a.(string)
		return ok && av == bv
	case bool:
		av, ok := a.(bool)
		return ok && av == bv
	case []int:
		return sameList(anyList(a), intsToAny(bv))
	case []any:
		return sameList(anyList(a), bv)
	case []string:
		return sameList(anyList(a), stringsToAny(bv))
	}
	return false
}

func sameList(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

func anyList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []int:
		return intsToAny(t)
	case []string:
		return stringsToAny(t)
	}
	return nil
}

func intsToAny(list []int) []any {
	out := make([]any, len(list))
	for i, n := range list {
		out[i] = n
	}
	return out
}

func stringsToAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

func intOf(v any) (int, bool) {
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
