// Package relation computes the induced peer-side updates of a model
// mutation: mirror links, generic dispatch, template index maintenance,
// equal-field enforcement and the delete policies.
package relation

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/meta"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Update is one induced field change. Value is the complete new value of
// the field, nil clears it. Updates on the mutated model itself occur for
// template index fields.
type Update struct {
	FQID  fqid.FQID
	Field string
	Value any
}

type Resolver struct {
	reg   *meta.Registry
	cache *datastore.Cache
}

func New(reg *meta.Registry, cache *datastore.Cache) *Resolver {
	return &Resolver{reg: reg, cache: cache}
}

// Resolve computes every induced update of writing the given canonical
// field values to id. With create set, the instance has no persisted state
// and the resolver takes the add-only path.
func (r *Resolver) Resolve(ctx context.Context, id fqid.FQID, fields map[string]any, create bool) ([]Update, error) {
	coll, ok := r.reg.Collection(id.Collection)
	if !ok {
		return nil, httperr.NewValidation("unknown collection %q", id.Collection)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Update
	for _, name := range names {
		field, ok := coll.Field(name)
		if !ok {
			continue
		}
		if !field.Type.IsRelation() {
			continue
		}
		updates, err := r.resolveField(ctx, id, field, fields[name], fields, create)
		if err != nil {
			return nil, err
		}
		out = append(out, updates...)
	}
	return out, nil
}

func (r *Resolver) resolveField(ctx context.Context, id fqid.FQID, field *meta.Field, value any, instance map[string]any, create bool) ([]Update, error) {
	newRefs, err := refsOf(field, value)
	if err != nil {
		return nil, err
	}
	var oldRefs []ref
	if !create {
		current, err := r.cache.Get(ctx, id, []string{field.Name})
		if err != nil {
			return nil, err
		}
		oldRefs, err = refsOf(field, current[field.Name])
		if err != nil {
			return nil, err
		}
	}
	added, removed := diffRefs(oldRefs, newRefs)

	var out []Update
	for _, target := range added {
		updates, err := r.link(ctx, id, field, target, instance, true)
		if err != nil {
			return nil, err
		}
		out = append(out, updates...)
	}
	for _, target := range removed {
		updates, err := r.link(ctx, id, field, target, instance, false)
		if err != nil {
			return nil, err
		}
		out = append(out, updates...)
	}

	if field.Structured() {
		update, err := r.templateIndexUpdate(ctx, id, field, len(newRefs) > 0)
		if err != nil {
			return nil, err
		}
		if update != nil {
			out = append(out, *update)
		}
	}
	return out, nil
}

// link produces the peer-side update of adding or removing one edge, plus
// the peer's template index update when the peer field is structured.
func (r *Resolver) link(ctx context.Context, id fqid.FQID, field *meta.Field, target ref, instance map[string]any, add bool) ([]Update, error) {
	peer, ok := r.reg.Peer(field, target.collection)
	if !ok {
		return nil, httperr.NewValidation(
			"field %s/%s has no relation to collection %q", id.Collection, field.Name, target.collection)
	}
	peerID := fqid.FQID{Collection: target.collection, ID: target.id}
	if r.cache.IsDeleted(peerID) {
		if !add {
			// Detaching from a model deleted earlier in the batch is a no-op.
			return nil, nil
		}
		return nil, httperr.NewNotFound("model %s does not exist", peerID)
	}
	if add {
		if err := r.checkEqualFields(ctx, id, field, peerID, instance); err != nil {
			return nil, err
		}
	}

	var selfRef any
	if peer.Type.IsGeneric() {
		selfRef = id.String()
	} else {
		selfRef = id.ID
	}

	var out []Update
	if peer.Type.IsList() {
		current, err := r.cache.Get(ctx, peerID, []string{peer.Name})
		if err != nil {
			return nil, err
		}
		list := anySlice(current[peer.Name])
		if add {
			if !containsAny(list, selfRef) {
				list = append(list, selfRef)
			}
		} else {
			list = removeAny(list, selfRef)
		}
		var v any
		if len(list) > 0 {
			v = list
		}
		out = append(out, Update{FQID: peerID, Field: peer.Name, Value: v})
	} else {
		var v any
		if add {
			v = selfRef
		}
		out = append(out, Update{FQID: peerID, Field: peer.Name, Value: v})
	}

	if peer.Structured() {
		update, err := r.templateIndexUpdate(ctx, peerID, peer, add)
		if err != nil {
			return nil, err
		}
		if update != nil {
			out = append(out, *update)
		}
	}
	return out, nil
}

// templateIndexUpdate keeps the replacement index list of a template field
// in step with its structured variants.
func (r *Resolver) templateIndexUpdate(ctx context.Context, id fqid.FQID, variant *meta.Field, populated bool) (*Update, error) {
	template, _, ok := fqid.Structured(variant.Name)
	if !ok {
		return nil, httperr.NewValidation("field %q is not structured", variant.Name)
	}
	current, err := r.cache.Get(ctx, id, []string{template})
	if err != nil {
		return nil, err
	}
	list := stringSlice(current[template])
	if populated {
		if containsString(list, variant.Replacement) {
			return nil, nil
		}
		list = append(list, variant.Replacement)
	} else {
		if !containsString(list, variant.Replacement) {
			return nil, nil
		}
		list = removeString(list, variant.Replacement)
	}
	var v any
	if len(list) > 0 {
		v = list
	}
	return &Update{FQID: id, Field: template, Value: v}, nil
}

// checkEqualFields verifies the declared invariants between the mutated
// instance and one touched peer. The instance map wins over the overlay so
// in-flight values are compared.
func (r *Resolver) checkEqualFields(ctx context.Context, id fqid.FQID, field *meta.Field, peerID fqid.FQID, instance map[string]any) error {
	for _, name := range field.EqualFields {
		selfValue, ok := instance[name]
		if !ok {
			current, err := r.cache.Get(ctx, id, []string{name})
			if err != nil {
				return err
			}
			selfValue = current[name]
		}
		peerModel, err := r.cache.Get(ctx, peerID, []string{name})
		if err != nil {
			return err
		}
		if !equalValue(selfValue, peerModel[name]) {
			return httperr.NewValidation(
				"The relation %s requires the following fields to be equal:\n%s/%s: %v\n%s/%s: %v",
				field.Name, id, name, selfValue, peerID, name, peerModel[name])
		}
	}
	return nil
}

// DeletePlan describes what deleting one model entails per the declared
// on-delete policies.
type DeletePlan struct {
	// Cascaded peers must be deleted before the model itself.
	Cascade []fqid.FQID
	// Detach updates remove the model from every remaining peer.
	Detach []Update
}

// PlanDelete walks every relation field of the model. PROTECT with a live
// link fails, CASCADE collects peers for deletion, anything else detaches.
func (r *Resolver) PlanDelete(ctx context.Context, id fqid.FQID) (*DeletePlan, error) {
	coll, ok := r.reg.Collection(id.Collection)
	if !ok {
		return nil, httperr.NewValidation("unknown collection %q", id.Collection)
	}

	plan := &DeletePlan{}
	for _, field := range coll.RelationFields() {
		variants, err := r.deleteVariants(ctx, id, field)
		if err != nil {
			return nil, err
		}
		for _, variant := range variants {
			current, err := r.cache.Get(ctx, id, []string{variant.Name})
			if err != nil {
				return nil, err
			}
			refs, err := refsOf(variant, current[variant.Name])
			if err != nil {
				return nil, err
			}
			var live []ref
			for _, target := range refs {
				peerID := fqid.FQID{Collection: target.collection, ID: target.id}
				if !r.cache.IsDeleted(peerID) {
					live = append(live, target)
				}
			}
			if len(live) == 0 {
				continue
			}
			switch variant.OnDelete {
			case meta.OnDeleteProtect:
				return nil, httperr.NewValidation(
					"You can not delete %s because you have to delete the following related models first: %s",
					id, refList(live))
			case meta.OnDeleteCascade:
				for _, target := range live {
					plan.Cascade = append(plan.Cascade, fqid.FQID{Collection: target.collection, ID: target.id})
				}
			default:
				for _, target := range live {
					updates, err := r.link(ctx, id, variant, target, nil, false)
					if err != nil {
						return nil, err
					}
					plan.Detach = append(plan.Detach, updates...)
				}
			}
		}
	}
	return plan, nil
}

// deleteVariants expands a template field into its populated structured
// variants; plain fields pass through.
func (r *Resolver) deleteVariants(ctx context.Context, id fqid.FQID, field *meta.Field) ([]*meta.Field, error) {
	if field.Type != meta.TypeTemplate {
		return []*meta.Field{field}, nil
	}
	current, err := r.cache.Get(ctx, id, []string{field.Name})
	if err != nil {
		return nil, err
	}
	coll, _ := r.reg.Collection(id.Collection)
	var out []*meta.Field
	for _, replacement := range stringSlice(current[field.Name]) {
		name, err := fqid.ToStructured(field.Name, replacement)
		if err != nil {
			return nil, httperr.NewValidation("invalid replacement %q on %s/%s", replacement, id, field.Name)
		}
		variant, ok := coll.Field(name)
		if !ok {
			return nil, httperr.NewValidation("unknown structured field %s on %s", name, id)
		}
		out = append(out, variant)
	}
	return out, nil
}

// ref is one resolved edge endpoint.
type ref struct {
	collection string
	id         int
}

func refsOf(field *meta.Field, value any) ([]ref, error) {
	if value == nil {
		return nil, nil
	}
	targetOf := func(n int) ref {
		return ref{collection: field.To[0].Collection, id: n}
	}
	switch field.Type {
	case meta.TypeRelation:
		n, ok := intOf(value)
		if !ok {
			return nil, httperr.NewValidation("field %s: expected id, got %v", field.Name, value)
		}
		return []ref{targetOf(n)}, nil
	case meta.TypeRelationList:
		var out []ref
		for _, v := range anySlice(value) {
			n, ok := intOf(v)
			if !ok {
				return nil, httperr.NewValidation("field %s: expected id list, got %v", field.Name, value)
			}
			out = append(out, targetOf(n))
		}
		return out, nil
	case meta.TypeGenericRelation:
		target, err := genericRef(field, value)
		if err != nil {
			return nil, err
		}
		return []ref{target}, nil
	case meta.TypeGenericRelationList:
		var out []ref
		for _, v := range anySlice(value) {
			target, err := genericRef(field, v)
			if err != nil {
				return nil, err
			}
			out = append(out, target)
		}
		return out, nil
	}
	return nil, nil
}

func genericRef(field *meta.Field, value any) (ref, error) {
	raw, ok := value.(string)
	if !ok {
		return ref{}, httperr.NewValidation("field %s: expected fqid, got %v", field.Name, value)
	}
	id, err := fqid.Parse(raw)
	if err != nil {
		return ref{}, httperr.NewValidation("field %s: %v", field.Name, err)
	}
	for _, t := range field.To {
		if t.Collection == id.Collection {
			return ref{collection: id.Collection, id: id.ID}, nil
		}
	}
	return ref{}, httperr.NewValidation(
		"field %s does not accept collection %q", field.Name, id.Collection)
}

func diffRefs(old, new []ref) (added, removed []ref) {
	oldSet := make(map[ref]bool, len(old))
	for _, r := range old {
		oldSet[r] = true
	}
	newSet := make(map[ref]bool, len(new))
	for _, r := range new {
		newSet[r] = true
		if !oldSet[r] {
			added = append(added, r)
		}
	}
	for _, r := range old {
		if !newSet[r] {
			removed = append(removed, r)
		}
	}
	return added, removed
}

func refList(refs []ref) string {
	out := ""
	for i, r := range refs {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s/%d", r.collection, r.id)
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

func anySlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return append([]any(nil), t...)
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return nil
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsAny(list []any, v any) bool {
	for _, e := range list {
		if equalValue(e, v) {
			return true
		}
	}
	return false
}

func removeAny(list []any, v any) []any {
	out := list[:0]
	for _, e := range list {
		if !equalValue(e, v) {
			out = append(out, e)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, e := range list {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}

func equalValue(a, b any) bool {
	an, aok := intOf(a)
	bn, bok := intOf(b)
	if aok && bok {
		return an == bn
	}
	return reflect.DeepEqual(a, b)
}
