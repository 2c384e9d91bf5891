// Package variant defines session variants: their field schemas, prompt
// builders, and checkpoint schedules, plus the resolver that turns an
// inbound payload into a validated session context.
package variant

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind is the accepted type of a context field value.
type Kind int

const (
	KindString Kind = iota
	KindStringList
)

// Field describes one entry of a variant's schema.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Context is an immutable, validated session context: the resolved
// variant name plus its field values. Built only by Registry.Resolve.
type Context struct {
	variant string
	fields  map[string]any
}

// Variant returns the resolved variant name.
func (c Context) Variant() string { return c.variant }

// String returns a string field value, or "" when absent.
func (c Context) String(name string) string {
	if v, ok := c.fields[name].(string); ok {
		return v
	}
	return ""
}

// StringList returns a string-list field value, or nil when absent.
func (c Context) StringList(name string) []string {
	if v, ok := c.fields[name].([]string); ok {
		out := make([]string, len(v))
		copy(out, v)
		return out
	}
	return nil
}

// Has reports whether the field carries a value.
func (c Context) Has(name string) bool {
	_, ok := c.fields[name]
	return ok
}

// ValidationError rejects a payload that fails a variant's schema. The
// whole payload is rejected; there is no partial acceptance.
type ValidationError struct {
	Variant string
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("variant %q: %s", e.Variant, strings.Join(parts, "; "))
}

// buildContext validates raw field values against a schema and returns
// an immutable Context. Fields outside the schema are dropped.
func buildContext(variant string, schema []Field, raw map[string]any) (Context, error) {
	verr := &ValidationError{Variant: variant}
	fields := make(map[string]any, len(schema))

	for _, f := range schema {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			if f.Required {
				verr.Missing = append(verr.Missing, f.Name)
			}
			continue
		}
		coerced, ok := coerce(f.Kind, v)
		if !ok {
			verr.Invalid = append(verr.Invalid, f.Name)
			continue
		}
		fields[f.Name] = coerced
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		sort.Strings(verr.Missing)
		sort.Strings(verr.Invalid)
		return Context{}, verr
	}
	return Context{variant: variant, fields: fields}, nil
}

// coerce accepts the JSON decodings a field kind allows. Decoded JSON
// arrays arrive as []any, so string lists accept both forms.
func coerce(kind Kind, v any) (any, bool) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		return s, ok
	case KindStringList:
		switch list := v.(type) {
		case []string:
			return list, true
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, false
				}
				out = append(out, s)
			}
			return out, true
		}
	}
	return nil, false
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// camelToSnake converts a camelCase key to the canonical snake_case
// form used by variant schemas.
func camelToSnake(name string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(name, "${1}_${2}"))
}
