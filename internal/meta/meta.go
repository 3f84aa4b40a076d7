// Package meta holds the static model registry: collection schemas, field
// types, relation topology, cascade rules and template fields. The registry is
// loaded once from the embedded models.yml, which is the single source of
// truth for every other component.
package meta

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/plenumhq/plenum/pkg/fqid"
)

//go:embed models.yml
var modelsYAML []byte

type FieldType string

const (
	TypeInteger             FieldType = "integer"
	TypeString              FieldType = "string"
	TypeText                FieldType = "text"
	TypeHTMLStrict          FieldType = "html_strict"
	TypeHTMLPermissive      FieldType = "html_permissive"
	TypeBoolean             FieldType = "boolean"
	TypeJSON                FieldType = "json"
	TypeDecimal             FieldType = "decimal"
	TypeTimestamp           FieldType = "timestamp"
	TypeColor               FieldType = "color"
	TypeEnum                FieldType = "enum"
	TypeStringList          FieldType = "string[]"
	TypeNumberList          FieldType = "number[]"
	TypeRelation            FieldType = "relation"
	TypeRelationList        FieldType = "relation-list"
	TypeGenericRelation     FieldType = "generic-relation"
	TypeGenericRelationList FieldType = "generic-relation-list"
	TypeTemplate            FieldType = "template"
)

func (t FieldType) IsRelation() bool {
	switch t {
	case TypeRelation, TypeRelationList, TypeGenericRelation, TypeGenericRelationList:
		return true
	}
	return false
}

func (t FieldType) IsList() bool {
	switch t {
	case TypeRelationList, TypeGenericRelationList:
		return true
	}
	return false
}

func (t FieldType) IsGeneric() bool {
	return t == TypeGenericRelation || t == TypeGenericRelationList
}

type OnDelete string

const (
	OnDeleteSetNull OnDelete = "SET_NULL"
	OnDeleteProtect OnDelete = "PROTECT"
	OnDeleteCascade OnDelete = "CASCADE"
)

// Target names one peer side of a relation field.
type Target struct {
	Collection string
	Field      string
}

// Field describes one declared field of a collection. For template fields the
// descriptor of the structured variants lives in Inner; the template field
// itself stores the replacement index list.
type Field struct {
	Name            string
	Collection      string
	Type            FieldType
	Required        bool
	ReadOnly        bool
	Default         any
	Enum            []string
	To              []Target
	OnDelete        OnDelete
	EqualFields     []string
	ReplacementEnum []string
	Inner           *Field

	// Replacement is set on synthesized structured variants only.
	Replacement string
}

// Targets returns the peer sides; for generic relations there are several.
func (f *Field) Targets() []Target { return f.To }

// Structured reports whether f is a synthesized variant of a template field.
func (f *Field) Structured() bool { return f.Replacement != "" }

type Collection struct {
	Name   string
	order  []string
	fields map[string]*Field
}

func (c *Collection) Fields() []*Field {
	out := make([]*Field, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.fields[name])
	}
	return out
}

// Field resolves a field descriptor by name. Structured names resolve through
// their template: Field("comment_$5") yields a synthesized variant carrying
// the template's inner type and the replacement "5".
func (c *Collection) Field(name string) (*Field, bool) {
	if f, ok := c.fields[name]; ok {
		return f, true
	}
	template, replacement, ok := fqid.Structured(name)
	if !ok || replacement == "" {
		return nil, false
	}
	t, ok := c.fields[template]
	if !ok || t.Type != TypeTemplate {
		return nil, false
	}
	if len(t.ReplacementEnum) > 0 && !contains(t.ReplacementEnum, replacement) {
		return nil, false
	}
	variant := *t.Inner
	variant.Name = name
	variant.Collection = c.Name
	variant.Replacement = replacement
	// The peer of a structured relation is the structured variant of the
	// peer template, materialized with the same replacement.
	if variant.Type.IsRelation() {
		to := make([]Target, len(variant.To))
		for i, target := range variant.To {
			peerField, err := fqid.ToStructured(target.Field, replacement)
			if err != nil {
				return nil, false
			}
			to[i] = Target{Collection: target.Collection, Field: peerField}
		}
		variant.To = to
	}
	return &variant, true
}

// Template returns the template descriptor a structured field name belongs to.
func (c *Collection) Template(name string) (*Field, bool) {
	template, _, ok := fqid.Structured(name)
	if !ok {
		return nil, false
	}
	t, ok := c.fields[template]
	if !ok || t.Type != TypeTemplate {
		return nil, false
	}
	return t, true
}

// RelationFields iterates the declared relation fields including templates
// whose inner type is a relation.
func (c *Collection) RelationFields() []*Field {
	var out []*Field
	for _, name := range c.order {
		f := c.fields[name]
		if f.Type.IsRelation() {
			out = append(out, f)
			continue
		}
		if f.Type == TypeTemplate && f.Inner.Type.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

type Registry struct {
	collections map[string]*Collection
	order       []string
}

func (r *Registry) Collection(name string) (*Collection, bool) {
	c, ok := r.collections[name]
	return c, ok
}

func (r *Registry) Collections() []*Collection {
	out := make([]*Collection, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.collections[name])
	}
	return out
}

// Field is the two-level lookup used across the engine.
func (r *Registry) Field(collection, field string) (*Field, bool) {
	c, ok := r.collections[collection]
	if !ok {
		return nil, false
	}
	return c.Field(field)
}

// Peer resolves the mirror descriptor of a relation field against one
// concrete target collection.
func (r *Registry) Peer(f *Field, targetCollection string) (*Field, bool) {
	for _, t := range f.To {
		if t.Collection == targetCollection {
			return r.Field(t.Collection, t.Field)
		}
	}
	return nil, false
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry loaded from the embedded models.yml.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = Load(modelsYAML)
		if defaultErr != nil {
			panic(defaultErr)
		}
	})
	return defaultRegistry
}

// yaml decoding ---------------------------------------------------------------

type fileSpec struct {
	Version     int                       `yaml:"version"`
	Collections map[string]collectionSpec `yaml:"collections"`
}

type collectionSpec struct {
	Fields map[string]fieldSpec `yaml:"fields"`
	order  []string
}

func (c *collectionSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain struct {
		Fields yaml.Node `yaml:"fields"`
	}
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if p.Fields.Kind != yaml.MappingNode {
		return fmt.Errorf("fields must be a mapping")
	}
	c.Fields = make(map[string]fieldSpec, len(p.Fields.Content)/2)
	for i := 0; i+1 < len(p.Fields.Content); i += 2 {
		name := p.Fields.Content[i].Value
		var fs fieldSpec
		if err := p.Fields.Content[i+1].Decode(&fs); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		c.Fields[name] = fs
		c.order = append(c.order, name)
	}
	return nil
}

type fieldSpec struct {
	Type            string     `yaml:"type"`
	Required        bool       `yaml:"required"`
	ReadOnly        bool       `yaml:"read_only"`
	Default         any        `yaml:"default"`
	Enum            []string   `yaml:"enum"`
	To              toSpec     `yaml:"to"`
	OnDelete        string     `yaml:"on_delete"`
	EqualFields     []string   `yaml:"equal_fields"`
	ReplacementEnum []string   `yaml:"replacement_enum"`
	Fields          *fieldSpec `yaml:"fields"`
}

// toSpec accepts either "collection/field" or
// {collections: [...], field: name}.
type toSpec struct {
	targets []Target
}

func (s *toSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parts := strings.SplitN(node.Value, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("bad relation target %q", node.Value)
		}
		s.targets = []Target{{Collection: parts[0], Field: parts[1]}}
		return nil
	}
	var generic struct {
		Collections []string `yaml:"collections"`
		Field       string   `yaml:"field"`
	}
	if err := node.Decode(&generic); err != nil {
		return err
	}
	if len(generic.Collections) == 0 || generic.Field == "" {
		return fmt.Errorf("generic relation target needs collections and field")
	}
	for _, c := range generic.Collections {
		s.targets = append(s.targets, Target{Collection: c, Field: generic.Field})
	}
	return nil
}

// Load parses and cross-checks a registry description.
func Load(b []byte) (*Registry, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("models: %w", err)
	}
	if spec.Version != 1 {
		return nil, fmt.Errorf("models: unsupported version %d", spec.Version)
	}

	reg := &Registry{collections: make(map[string]*Collection, len(spec.Collections))}
	for name := range spec.Collections {
		if !fqid.ValidCollection(name) {
			return nil, fmt.Errorf("models: invalid collection name %q", name)
		}
		reg.order = append(reg.order, name)
	}
	sort.Strings(reg.order)

	for _, name := range reg.order {
		cs := spec.Collections[name]
		c := &Collection{Name: name, fields: make(map[string]*Field, len(cs.Fields))}
		for _, fname := range cs.order {
			f, err := buildField(name, fname, cs.Fields[fname])
			if err != nil {
				return nil, err
			}
			c.fields[fname] = f
			c.order = append(c.order, fname)
		}
		reg.collections[name] = c
	}

	if err := reg.check(); err != nil {
		return nil, err
	}
	return reg, nil
}

func buildField(collection, name string, fs fieldSpec) (*Field, error) {
	ft := FieldType(fs.Type)
	switch ft {
	case TypeInteger, TypeString, TypeText, TypeHTMLStrict, TypeHTMLPermissive,
		TypeBoolean, TypeJSON, TypeDecimal, TypeTimestamp, TypeColor, TypeEnum,
		TypeStringList, TypeNumberList, TypeRelation, TypeRelationList,
		TypeGenericRelation, TypeGenericRelationList, TypeTemplate:
	default:
		return nil, fmt.Errorf("models: %s/%s: unknown type %q", collection, name, fs.Type)
	}

	f := &Field{
		Name:            name,
		Collection:      collection,
		Type:            ft,
		Required:        fs.Required,
		ReadOnly:        fs.ReadOnly,
		Default:         fs.Default,
		Enum:            fs.Enum,
		To:              fs.To.targets,
		EqualFields:     fs.EqualFields,
		ReplacementEnum: fs.ReplacementEnum,
		OnDelete:        OnDeleteSetNull,
	}
	switch fs.OnDelete {
	case "":
	case string(OnDeleteProtect), string(OnDeleteCascade), string(OnDeleteSetNull):
		f.OnDelete = OnDelete(fs.OnDelete)
	default:
		return nil, fmt.Errorf("models: %s/%s: unknown on_delete %q", collection, name, fs.OnDelete)
	}

	if ft == TypeEnum && len(fs.Enum) == 0 {
		return nil, fmt.Errorf("models: %s/%s: enum without values", collection, name)
	}
	if ft.IsRelation() && len(f.To) == 0 {
		return nil, fmt.Errorf("models: %s/%s: relation without target", collection, name)
	}
	if ft == TypeTemplate {
		if !strings.Contains(name, "$") {
			return nil, fmt.Errorf("models: %s/%s: template without $ marker", collection, name)
		}
		if fs.Fields == nil {
			return nil, fmt.Errorf("models: %s/%s: template without fields", collection, name)
		}
		inner, err := buildField(collection, name, *fs.Fields)
		if err != nil {
			return nil, err
		}
		f.Inner = inner
	}
	return f, nil
}

// check verifies that every relation target exists and mirrors back.
func (r *Registry) check() error {
	for _, c := range r.Collections() {
		for _, f := range c.Fields() {
			rel := f
			if f.Type == TypeTemplate {
				if f.Inner == nil || !f.Inner.Type.IsRelation() {
					continue
				}
				rel = f.Inner
			} else if !f.Type.IsRelation() {
				continue
			}
			for _, t := range rel.To {
				peerColl, ok := r.collections[t.Collection]
				if !ok {
					return fmt.Errorf("models: %s/%s targets unknown collection %q", c.Name, f.Name, t.Collection)
				}
				peer, ok := peerColl.fields[t.Field]
				if !ok {
					return fmt.Errorf("models: %s/%s targets unknown field %s/%s", c.Name, f.Name, t.Collection, t.Field)
				}
				peerRel := peer
				if peer.Type == TypeTemplate {
					peerRel = peer.Inner
				}
				if peerRel == nil || !peerRel.Type.IsRelation() {
					return fmt.Errorf("models: %s/%s peer %s/%s is not a relation", c.Name, f.Name, t.Collection, t.Field)
				}
				if !mirrors(peerRel, c.Name, f.Name) {
					return fmt.Errorf("models: %s/%s not mirrored by %s/%s", c.Name, f.Name, t.Collection, t.Field)
				}
			}
		}
	}
	return nil
}

func mirrors(peer *Field, collection, field string) bool {
	for _, t := range peer.To {
		if t.Collection == collection && t.Field == field {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
