package datastore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Filter is an expression tree evaluated by the datastore service, and
// locally against overlay-changed models.
type Filter interface {
	expr(b *strings.Builder)
	wire() any
}

type And []Filter

func (f And) wire() any {
	parts := make([]any, len(f))
	for i, p := range f {
		parts[i] = p.wire()
	}
	return map[string]any{"and_filter": parts}
}

func (f And) expr(b *strings.Builder) {
	if len(f) == 0 {
		b.WriteString("true")
		return
	}
	b.WriteString("(")
	for i, p := range f {
		if i > 0 {
			b.WriteString(" && ")
		}
		p.expr(b)
	}
	b.WriteString(")")
}

type Or []Filter

func (f Or) wire() any {
	parts := make([]any, len(f))
	for i, p := range f {
		parts[i] = p.wire()
	}
	return map[string]any{"or_filter": parts}
}

func (f Or) expr(b *strings.Builder) {
	if len(f) == 0 {
		b.WriteString("false")
		return
	}
	b.WriteString("(")
	for i, p := range f {
		if i > 0 {
			b.WriteString(" || ")
		}
		p.expr(b)
	}
	b.WriteString(")")
}

type Not struct{ Filter Filter }

func (f Not) wire() any {
	return map[string]any{"not_filter": f.Filter.wire()}
}

func (f Not) expr(b *strings.Builder) {
	b.WriteString("!(")
	f.Filter.expr(b)
	b.WriteString(")")
}

// FilterOperator compares one field against a literal with one of
// =, !=, <, <=, >, >=. A model that lacks the field matches no
// operator, != included; wrap the comparison in Not to select models
// where the field is absent or unequal.
type FilterOperator struct {
	Field    string
	Operator string
	Value    any
}

func (f FilterOperator) wire() any {
	return map[string]any{"field": f.Field, "operator": f.Operator, "value": f.Value}
}

func (f FilterOperator) expr(b *strings.Builder) {
	op := f.Operator
	if op == "=" {
		op = "=="
	}
	// Models missing the field never match; the overlay carries partial
	// instances.
	fmt.Fprintf(b, "(%q in m) && (m[%q] %s %s)", f.Field, f.Field, op, literal(f.Value))
}

func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	}
}

// Expr renders the filter as a CEL predicate over the variable m
// (map[string]dyn holding one model).
func Expr(f Filter) string {
	var b strings.Builder
	f.expr(&b)
	return b.String()
}

// MarshalFilter renders the wire form understood by the datastore service.
func MarshalFilter(f Filter) ([]byte, error) {
	return json.Marshal(f.wire())
}

// FieldsOf returns the set of field names a filter touches, sorted.
func FieldsOf(f Filter) []string {
	seen := map[string]bool{}
	collectFields(f, seen)
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func collectFields(f Filter, seen map[string]bool) {
	switch t := f.(type) {
	case And:
		for _, p := range t {
			collectFields(p, seen)
		}
	case Or:
		for _, p := range t {
			collectFields(p, seen)
		}
	case Not:
		collectFields(t.Filter, seen)
	case FilterOperator:
		seen[t.Field] = true
	}
}
