// Package action is the dispatch and composition engine: it turns a batch
// of high-level action requests into one ordered, deduplicated,
// permission-checked write request against the event datastore.
package action

import (
	"context"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/meta"
	"github.com/plenumhq/plenum/internal/perm"
	"github.com/plenumhq/plenum/internal/relation"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Env bundles the request-scoped services one batch attempt runs against.
// Nested and dependent actions share the Env, and with it the overlay and
// the event sink.
type Env struct {
	Reg      *meta.Registry
	Cache    *datastore.Cache
	Resolver *relation.Resolver
	Perm     *perm.Kernel
	UserID   int
	Internal bool

	sink      *sink
	onSuccess []func()
	depth     int
}

// NewEnv builds a fresh environment for one batch attempt on top of a
// datastore source.
func NewEnv(reg *meta.Registry, source datastore.Source, userID int, internal bool) *Env {
	cache := datastore.NewCache(source)
	return &Env{
		Reg:      reg,
		Cache:    cache,
		Resolver: relation.New(reg, cache),
		Perm:     perm.NewKernel(cache),
		UserID:   userID,
		Internal: internal,
		sink:     newSink(),
	}
}

// History attaches one audit entry to a model for the merged write.
func (e *Env) History(id fqid.FQID, entry string) {
	e.sink.history(id.String(), entry)
}

// OnSuccess defers a side effect until the merged write is accepted.
func (e *Env) OnSuccess(fn func()) {
	e.onSuccess = append(e.onSuccess, fn)
}

// EmitUpdate writes an update event directly, bypassing the resolver.
// Sort actions use it: they rewrite both sides of the parent/child
// relation with values that are already globally consistent.
func (e *Env) EmitUpdate(id fqid.FQID, fields map[string]any) {
	e.sink.add(datastore.Event{Type: datastore.EventUpdate, FQID: id.String(), Fields: copyFields(fields)})
	e.Cache.Apply(id, fields, false)
}

// Action is one registered operation. Hooks are optional; the executor is
// usually one of the generic create/update/delete bases.
type Action struct {
	Name       string
	Collection string
	Internal   bool
	Singular   bool
	Schema     *Schema

	// Permission checks one instance before execution.
	Permission func(ctx context.Context, e *Env, instance map[string]any) error
	// UpdateInstance derives computed fields before validation.
	UpdateInstance func(ctx context.Context, e *Env, instance map[string]any) error
	// Execute performs the instance and returns its result entry.
	Execute func(ctx context.Context, e *Env, instance map[string]any) (map[string]any, error)
	// Dependents run after each successful instance.
	Dependents []Dependent
}

// Dependent describes an action triggered per instance of its parent.
type Dependent struct {
	// Check gates the dependent; nil means always.
	Check func(e *Env, instance map[string]any) bool
	// Payload computes the dependent action name and payload from the
	// executed instance.
	Payload func(e *Env, instance map[string]any) (string, []map[string]any, error)
}

const maxActionDepth = 20

// run executes every instance of one action payload in order and returns
// one result slot per instance.
func (a *Action) run(ctx context.Context, e *Env, payload []map[string]any) ([]map[string]any, error) {
	if a.Singular && len(payload) > 1 {
		return nil, httperr.NewValidation("Action %s may not be used with multiple instances", a.Name)
	}
	results := make([]map[string]any, 0, len(payload))
	for _, raw := range payload {
		instance := copyFields(raw)
		if a.Schema != nil {
			if err := a.Schema.Validate(e.Reg, instance); err != nil {
				return nil, err
			}
		}
		// Nested actions run under the authority of their caller; the
		// permission hook fires only for request-level invocations.
		if a.Permission != nil && e.depth == 0 {
			if err := a.Permission(ctx, e, instance); err != nil {
				return nil, err
			}
		}
		if a.UpdateInstance != nil {
			if err := a.UpdateInstance(ctx, e, instance); err != nil {
				return nil, err
			}
		}
		result, err := a.Execute(ctx, e, instance)
		if err != nil {
			return nil, err
		}
		results = append(results, result)

		for _, dep := range a.Dependents {
			if dep.Check != nil && !dep.Check(e, instance) {
				continue
			}
			name, depPayload, err := dep.Payload(e, instance)
			if err != nil {
				return nil, err
			}
			if len(depPayload) == 0 {
				continue
			}
			if _, err := e.ExecuteOther(ctx, name, depPayload); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// ExecuteOther synchronously runs another action with the inherited
// overlay and sink. Internal actions are reachable this way regardless of
// the request's origin.
func (e *Env) ExecuteOther(ctx context.Context, name string, payload []map[string]any) ([]map[string]any, error) {
	if e.depth >= maxActionDepth {
		return nil, httperr.NewValidation("Action nesting exceeds %d levels", maxActionDepth)
	}
	other, ok := Lookup(name)
	if !ok {
		return nil, httperr.NewValidation("Action %s does not exist.", name)
	}
	e.depth++
	defer func() { e.depth-- }()
	return other.run(ctx, e, payload)
}

// validateFields canonicalizes every payload field through the registry
// validators. The id key passes through untouched.
func validateFields(reg *meta.Registry, collection string, instance map[string]any) error {
	coll, ok := reg.Collection(collection)
	if !ok {
		return httperr.NewValidation("unknown collection %q", collection)
	}
	for name, value := range instance {
		if name == "id" {
			continue
		}
		field, ok := coll.Field(name)
		if !ok {
			return httperr.NewValidation("%s has no field %q", collection, name)
		}
		canonical, err := field.Validate(value)
		if err != nil {
			return err
		}
		instance[name] = canonical
	}
	return nil
}

// applyDefaults fills declared defaults on creation.
func applyDefaults(reg *meta.Registry, collection string, instance map[string]any) {
	coll, ok := reg.Collection(collection)
	if !ok {
		return
	}
	for _, field := range coll.Fields() {
		if field.Default == nil {
			continue
		}
		if _, ok := instance[field.Name]; !ok {
			instance[field.Name] = field.Default
		}
	}
}

// requireExists reads the id field of a model, failing with NotFound for
// absent or batch-deleted models.
func requireExists(ctx context.Context, e *Env, id fqid.FQID) error {
	_, err := e.Cache.Get(ctx, id, []string{"id"})
	return err
}

// instanceID extracts the mandatory id of an update/delete payload.
func instanceID(instance map[string]any) (int, error) {
	id, ok := intValue(instance["id"])
	if !ok {
		return 0, httperr.NewSchemaViolation("id must be a positive integer")
	}
	return id, nil
}

// fqidOf is a shorthand used across the executors.
func fqidOf(collection string, id int) fqid.FQID {
	return fqid.FQID{Collection: collection, ID: id}
}

// collectionOf splits "collection.verb" action names.
func collectionOf(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}
