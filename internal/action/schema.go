package action

import (
	"sort"

	"github.com/plenumhq/plenum/internal/meta"
	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

// Schema is the compiled payload validator of one action, built from the
// registry's field descriptors. It checks presence and field membership;
// semantic typing happens later through the registry validators.
type Schema struct {
	collection string
	required   []string
	optional   map[string]bool
	templates  map[string]bool
	needsID    bool
	extra      map[string]bool
}

// SchemaOf composes an action schema. Fields must be declared on the
// collection; template names admit every structured variant. Extra names
// whitelist payload keys that are not registry fields (verb parameters
// like sort trees).
func SchemaOf(reg *meta.Registry, collection string, required, optional, extra []string) *Schema {
	coll, ok := reg.Collection(collection)
	if !ok {
		panic("schema for unknown collection " + collection)
	}
	s := &Schema{
		collection: collection,
		optional:   map[string]bool{},
		templates:  map[string]bool{},
		extra:      map[string]bool{},
	}
	check := func(name string) {
		f, ok := coll.Field(name)
		if !ok {
			panic("schema field " + collection + "/" + name + " is not declared")
		}
		if f.Type == meta.TypeTemplate {
			s.templates[name] = true
		}
	}
	for _, name := range required {
		check(name)
		s.required = append(s.required, name)
	}
	for _, name := range optional {
		check(name)
		s.optional[name] = true
	}
	for _, name := range extra {
		s.extra[name] = true
	}
	return s
}

// WithID marks the payload as addressing an existing model; "id" becomes
// required and is excluded from field validation.
func (s *Schema) WithID() *Schema {
	s.needsID = true
	return s
}

// Validate checks one payload instance against the schema. Unknown and
// read-only fields fail, as do missing required ones.
func (s *Schema) Validate(reg *meta.Registry, instance map[string]any) error {
	coll, _ := reg.Collection(s.collection)

	if s.needsID {
		if _, ok := instance["id"]; !ok {
			return httperr.NewSchemaViolation("data must contain ['id'] properties")
		}
		if _, ok := intValue(instance["id"]); !ok {
			return httperr.NewSchemaViolation("id must be a positive integer")
		}
	}

	names := make([]string, 0, len(instance))
	for name := range instance {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "id" && s.needsID {
			continue
		}
		if s.extra[name] {
			continue
		}
		if !s.allows(name) {
			return httperr.NewSchemaViolation(
				"data must not contain {'%s'} properties", name)
		}
		field, ok := coll.Field(name)
		if !ok {
			return httperr.NewSchemaViolation(
				"data must not contain {'%s'} properties", name)
		}
		if field.ReadOnly {
			return httperr.NewSchemaViolation("field %s is read only", name)
		}
	}

	for _, name := range s.required {
		if v, ok := instance[name]; !ok || v == nil {
			return httperr.NewSchemaViolation("data must contain ['%s'] properties", name)
		}
	}
	return nil
}

// allows resolves direct membership and template variants.
func (s *Schema) allows(name string) bool {
	if s.optional[name] || containsName(s.required, name) {
		return true
	}
	template, _, ok := fqid.Structured(name)
	if !ok {
		return false
	}
	if !s.templates[template] {
		return false
	}
	return s.optional[template] || containsName(s.required, template)
}

func containsName(list []string, name string) bool {
	for _, e := range list {
		if e == name {
			return true
		}
	}
	return false
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n, true
		}
	case int64:
		if n > 0 {
			return int(n), true
		}
	case float64:
		if n > 0 && n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
