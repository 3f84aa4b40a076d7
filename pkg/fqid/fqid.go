package fqid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidCollection = errors.New("collection_invalid")
	ErrInvalidFQID       = errors.New("fqid_invalid")
	ErrInvalidFQField    = errors.New("fqfield_invalid")
	ErrInvalidField      = errors.New("field_invalid")
)

var (
	collectionPattern = regexp.MustCompile(`^[a-z][a-z_]*[a-z]?$`)
	idPattern         = regexp.MustCompile(`^[1-9][0-9]*$`)
	fieldPattern      = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	structuredPattern = regexp.MustCompile(`^([a-z][a-z0-9_]*_)\$([^_]*)(_[a-z0-9_]+)?$`)
)

// FQID addresses one persisted object as <collection>/<id>.
type FQID struct {
	Collection string
	ID         int
}

func New(collection string, id int) FQID {
	return FQID{Collection: collection, ID: id}
}

func (f FQID) String() string {
	return f.Collection + "/" + strconv.Itoa(f.ID)
}

func (f FQID) Valid() bool {
	return collectionPattern.MatchString(f.Collection) && f.ID > 0
}

// Field returns the FQ-field address <collection>/<id>/<field>.
func (f FQID) Field(field string) string {
	return f.String() + "/" + field
}

func Parse(raw string) (FQID, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 2 {
		return FQID{}, fmt.Errorf("%w: %q", ErrInvalidFQID, raw)
	}
	if !collectionPattern.MatchString(parts[0]) || !idPattern.MatchString(parts[1]) {
		return FQID{}, fmt.Errorf("%w: %q", ErrInvalidFQID, raw)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return FQID{}, fmt.Errorf("%w: %q", ErrInvalidFQID, raw)
	}
	return FQID{Collection: parts[0], ID: id}, nil
}

// MustParse panics on malformed input. Reserved for literals in tests and
// registry fixtures.
func MustParse(raw string) FQID {
	f, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return f
}

// FQField addresses one field on one object; it is the unit of locking.
type FQField struct {
	FQID
	Field string
}

func (f FQField) String() string {
	return f.FQID.Field(f.Field)
}

func ParseFQField(raw string) (FQField, error) {
	idx := strings.LastIndex(raw, "/")
	if idx < 0 {
		return FQField{}, fmt.Errorf("%w: %q", ErrInvalidFQField, raw)
	}
	id, err := Parse(raw[:idx])
	if err != nil {
		return FQField{}, fmt.Errorf("%w: %q", ErrInvalidFQField, raw)
	}
	field := raw[idx+1:]
	if !ValidField(field) {
		return FQField{}, fmt.Errorf("%w: %q", ErrInvalidFQField, raw)
	}
	return FQField{FQID: id, Field: field}, nil
}

func ValidCollection(name string) bool {
	return collectionPattern.MatchString(name)
}

// ValidField accepts plain field names and structured template variants
// (<base>$<replacement><suffix>).
func ValidField(name string) bool {
	return fieldPattern.MatchString(name) || structuredPattern.MatchString(name)
}

// Structured splits a structured field name into its template name and the
// replacement token. "comment_$5" yields ("comment_$", "5"); plain names
// report ok=false.
func Structured(field string) (template string, replacement string, ok bool) {
	m := structuredPattern.FindStringSubmatch(field)
	if m == nil {
		return "", "", false
	}
	return m[1] + "$" + m[3], m[2], true
}

// ToStructured materializes a template field name for a replacement:
// ("comment_$", "5") yields "comment_$5", ("logo_$_id", "webheader") yields
// "logo_$webheader_id".
func ToStructured(template string, replacement string) (string, error) {
	idx := strings.Index(template, "$")
	if idx < 0 {
		return "", fmt.Errorf("%w: %q is not a template", ErrInvalidField, template)
	}
	if strings.Contains(replacement, "_") || strings.Contains(replacement, "$") {
		return "", fmt.Errorf("%w: bad replacement %q", ErrInvalidField, replacement)
	}
	return template[:idx] + "$" + replacement + template[idx+1:], nil
}
