package schema

import (
	"fmt"
	"unicode/utf8"

	"github.com/roach88/scribe/internal/record"
)

// Violation is one failed validation check.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Validate checks the named root fields of obj against the schema.
// Fields without a declaration pass: schemas constrain what they
// declare, nothing more. A nil fields slice checks every declared
// field.
func (s *Schema) Validate(obj record.Object, fields []string) []Violation {
	if fields == nil {
		fields = make([]string, 0, len(s.Fields))
		for name := range s.Fields {
			fields = append(fields, name)
		}
	}

	var out []Violation
	for _, name := range fields {
		decl, ok := s.Fields[name]
		if !ok {
			continue
		}
		out = append(out, checkField(name, decl, obj[name])...)
	}
	return out
}

// checkField validates one value against one declaration.
func checkField(path string, decl Field, v record.Value) []Violation {
	if v == nil {
		if decl.Required {
			return []Violation{{Field: path, Message: "required field is missing"}}
		}
		return nil
	}
	if _, isNull := v.(record.Null); isNull {
		if decl.Required {
			return []Violation{{Field: path, Message: "required field is null"}}
		}
		return nil
	}

	switch decl.Kind {
	case KindString:
		str, ok := v.(record.String)
		if !ok {
			return kindMismatch(path, decl.Kind, v)
		}
		if decl.MaxLen > 0 && utf8.RuneCountInString(string(str)) > decl.MaxLen {
			return []Violation{{
				Field:   path,
				Message: fmt.Sprintf("exceeds maximum length %d", decl.MaxLen),
			}}
		}
	case KindInt:
		if _, ok := v.(record.Int); !ok {
			return kindMismatch(path, decl.Kind, v)
		}
	case KindFloat:
		// Ints coerce to float declarations.
		switch v.(type) {
		case record.Float, record.Int:
		default:
			return kindMismatch(path, decl.Kind, v)
		}
	case KindBool:
		if _, ok := v.(record.Bool); !ok {
			return kindMismatch(path, decl.Kind, v)
		}
	case KindTime:
		if _, ok := v.(record.Time); !ok {
			return kindMismatch(path, decl.Kind, v)
		}
	case KindList:
		list, ok := v.(record.List)
		if !ok {
			return kindMismatch(path, decl.Kind, v)
		}
		return checkListItems(path, decl, list)
	case KindObject:
		obj, ok := v.(record.Object)
		if !ok {
			return kindMismatch(path, decl.Kind, v)
		}
		var out []Violation
		for name, nested := range decl.Fields {
			out = append(out, checkField(path+"."+name, nested, obj[name])...)
		}
		return out
	}
	return nil
}

// checkListItems verifies every object item carries the identity key.
func checkListItems(path string, decl Field, list record.List) []Violation {
	var out []Violation
	for i, item := range list {
		obj, ok := item.(record.Object)
		if !ok {
			continue
		}
		if id, ok := obj[decl.IdentityKey]; !ok || id == nil {
			out = append(out, Violation{
				Field:   fmt.Sprintf("%s[%d]", path, i),
				Message: fmt.Sprintf("list item missing identity key %q", decl.IdentityKey),
			})
		}
	}
	return out
}

func kindMismatch(path string, want FieldKind, v record.Value) []Violation {
	return []Violation{{
		Field:   path,
		Message: fmt.Sprintf("expected %s, got %T", want, v),
	}}
}
