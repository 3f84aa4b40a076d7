package meta

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/plenumhq/plenum/pkg/fqid"
	"github.com/plenumhq/plenum/pkg/httperr"
)

var (
	colorPattern   = regexp.MustCompile(`^#[0-9a-f]{6}$`)
	decimalPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]{1,6})?$`)

	allowedStrictTags = map[string]bool{
		"a": true, "b": true, "br": true, "em": true, "i": true, "li": true,
		"ol": true, "p": true, "s": true, "strong": true, "u": true, "ul": true,
	}
	tagPattern    = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)
	scriptPattern = regexp.MustCompile(`(?is)<script.*?</script>|<script[^>]*/?>`)
)

const decimalScale = 6

// Validate canonicalizes a raw JSON value for the field or returns a typed
// validation error. The zero-information nil stays nil (it clears the field).
func (f *Field) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeInteger, TypeTimestamp:
		return f.toInt(value)
	case TypeString, TypeText:
		return f.toString(value)
	case TypeHTMLStrict:
		s, err := f.toString(value)
		if err != nil {
			return nil, err
		}
		return stripForbiddenTags(s), nil
	case TypeHTMLPermissive:
		s, err := f.toString(value)
		if err != nil {
			return nil, err
		}
		return scriptPattern.ReplaceAllString(s, ""), nil
	case TypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, f.typeError(value, "boolean")
	case TypeJSON:
		return value, nil
	case TypeDecimal:
		return f.toDecimal(value)
	case TypeColor:
		s, err := f.toString(value)
		if err != nil {
			return nil, err
		}
		s = strings.ToLower(s)
		if !colorPattern.MatchString(s) {
			return nil, httperr.NewValidation("%s/%s is not a color: %q", f.Collection, f.Name, s)
		}
		return s, nil
	case TypeEnum:
		s, err := f.toString(value)
		if err != nil {
			return nil, err
		}
		if !contains(f.Enum, s) {
			return nil, httperr.NewValidation("%s/%s: %q is not one of %v", f.Collection, f.Name, s, f.Enum)
		}
		return s, nil
	case TypeStringList:
		return f.toStringList(value, false)
	case TypeNumberList:
		return f.toIntList(value)
	case TypeRelation:
		id, err := f.toInt(value)
		if err != nil {
			return nil, err
		}
		if id <= 0 {
			return nil, httperr.NewValidation("%s/%s: relation id must be positive", f.Collection, f.Name)
		}
		return id, nil
	case TypeRelationList:
		return f.toIDList(value)
	case TypeGenericRelation:
		return f.toGeneric(value)
	case TypeGenericRelationList:
		list, ok := value.([]any)
		if !ok {
			return nil, f.typeError(value, "fqid list")
		}
		out := make([]string, 0, len(list))
		seen := map[string]bool{}
		for _, v := range list {
			g, err := f.toGeneric(v)
			if err != nil {
				return nil, err
			}
			if seen[g] {
				return nil, httperr.NewValidation("%s/%s: duplicate %s", f.Collection, f.Name, g)
			}
			seen[g] = true
			out = append(out, g)
		}
		return out, nil
	case TypeTemplate:
		// The template field itself stores its replacement index.
		return f.toStringList(value, true)
	}
	return nil, httperr.NewValidation("%s/%s: unhandled type %s", f.Collection, f.Name, f.Type)
}

func (f *Field) typeError(value any, want string) error {
	return httperr.NewValidation("%s/%s: expected %s, got %T", f.Collection, f.Name, want, value)
}

func (f *Field) toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, httperr.NewValidation("%s/%s: %v is not an integer", f.Collection, f.Name, v)
		}
		return int(v), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, httperr.NewValidation("%s/%s: %v is not an integer", f.Collection, f.Name, v)
		}
		return int(i), nil
	}
	return 0, f.typeError(value, "integer")
}

func (f *Field) toString(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	return "", f.typeError(value, "string")
}

// toDecimal yields the canonical string form with exactly six fractional
// digits. String inputs are validated exactly, never round-tripped through
// floats.
func (f *Field) toDecimal(value any) (string, error) {
	switch v := value.(type) {
	case string:
		if !decimalPattern.MatchString(v) {
			return "", httperr.NewValidation("%s/%s: %q is not a decimal", f.Collection, f.Name, v)
		}
		whole, frac, _ := strings.Cut(v, ".")
		return whole + "." + (frac + strings.Repeat("0", decimalScale))[:decimalScale], nil
	case int:
		return strconv.Itoa(v) + "." + strings.Repeat("0", decimalScale), nil
	case float64:
		return strconv.FormatFloat(v, 'f', decimalScale, 64), nil
	}
	return "", f.typeError(value, "decimal")
}

func (f *Field) toStringList(value any, template bool) ([]string, error) {
	list, ok := value.([]any)
	if !ok {
		if ss, ok := value.([]string); ok {
			list = make([]any, len(ss))
			for i, s := range ss {
				list[i] = s
			}
		} else {
			return nil, f.typeError(value, "string list")
		}
	}
	out := make([]string, 0, len(list))
	seen := map[string]bool{}
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, f.typeError(v, "string")
		}
		if template && len(f.ReplacementEnum) > 0 && !contains(f.ReplacementEnum, s) {
			return nil, httperr.NewValidation("%s/%s: %q is not an allowed replacement", f.Collection, f.Name, s)
		}
		if seen[s] {
			return nil, httperr.NewValidation("%s/%s: duplicate %q", f.Collection, f.Name, s)
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

func (f *Field) toIntList(value any) ([]int, error) {
	list, ok := value.([]any)
	if !ok {
		if is, ok := value.([]int); ok {
			return is, nil
		}
		return nil, f.typeError(value, "number list")
	}
	out := make([]int, 0, len(list))
	for _, v := range list {
		i, err := f.toInt(v)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

func (f *Field) toIDList(value any) ([]int, error) {
	ids, err := f.toIntList(value)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	for _, id := range ids {
		if id <= 0 {
			return nil, httperr.NewValidation("%s/%s: relation id must be positive", f.Collection, f.Name)
		}
		if seen[id] {
			return nil, httperr.NewValidation("%s/%s: duplicate id %d", f.Collection, f.Name, id)
		}
		seen[id] = true
	}
	return ids, nil
}

func (f *Field) toGeneric(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", f.typeError(value, "fqid")
	}
	id, err := fqid.Parse(s)
	if err != nil {
		return "", httperr.NewValidation("%s/%s: %v", f.Collection, f.Name, err)
	}
	for _, t := range f.To {
		if t.Collection == id.Collection {
			return s, nil
		}
	}
	return "", httperr.NewValidation("%s/%s: collection %q is not an allowed target", f.Collection, f.Name, id.Collection)
}

func stripForbiddenTags(s string) string {
	return tagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		m := tagPattern.FindStringSubmatch(tag)
		if m != nil && allowedStrictTags[strings.ToLower(m[1])] {
			return tag
		}
		return ""
	})
}

// FieldNames returns the declared (non-synthesized) field names of a
// collection, for schema builders.
func (c *Collection) FieldNames() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
