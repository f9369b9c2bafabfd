// Package schema compiles CUE record schemas and validates field
// values against them. Schemas drive the pre-save validation pass:
// field kinds, required flags, string length bounds, and the identity
// key of reconciled list fields.
//
// Schema layout:
//
//	record: Task: {
//		fields: {
//			title: {kind: "string", required: true, maxLen: 200}
//			due:   {kind: "time"}
//			tags:  {kind: "list", identityKey: "id"}
//		}
//	}
package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// FieldKind is the declared type of a schema field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindBool   FieldKind = "bool"
	KindTime   FieldKind = "time"
	KindList   FieldKind = "list"
	KindObject FieldKind = "object"
)

// validKinds guards against typos in schema files.
var validKinds = map[FieldKind]bool{
	KindString: true, KindInt: true, KindFloat: true, KindBool: true,
	KindTime: true, KindList: true, KindObject: true,
}

// Field is one compiled field declaration.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool

	// MaxLen bounds string length in runes. Zero means unbounded.
	MaxLen int

	// IdentityKey names the member that identifies items of a list
	// field. Empty for non-list fields; defaults to "id" for lists.
	IdentityKey string

	// Fields holds nested declarations for object fields.
	Fields map[string]Field
}

// Schema is one compiled record schema.
type Schema struct {
	Name   string
	Fields map[string]Field
}

// CompileError is a schema compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileSchema parses a CUE value into a Schema. The value is the
// record struct itself, e.g. the result of looking up "record.Task".
func CompileSchema(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{Fields: make(map[string]Field)}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		s.Name = labels[len(labels)-1].String()
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   "fields",
			Message: "fields block is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		f, err := compileField(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.Fields[f.Name] = f
	}
	if len(s.Fields) == 0 {
		return nil, &CompileError{
			Field:   "fields",
			Message: "at least one field is required",
			Pos:     fieldsVal.Pos(),
		}
	}
	return s, nil
}

// compileField parses one field declaration.
func compileField(name string, v cue.Value) (Field, error) {
	f := Field{Name: name}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return f, &CompileError{
			Field:   name,
			Message: "kind is required",
			Pos:     v.Pos(),
		}
	}
	kind, err := kindVal.String()
	if err != nil {
		return f, formatCUEError(err)
	}
	f.Kind = FieldKind(kind)
	if !validKinds[f.Kind] {
		return f, &CompileError{
			Field:   name,
			Message: fmt.Sprintf("unknown kind %q", kind),
			Pos:     kindVal.Pos(),
		}
	}

	if reqVal := v.LookupPath(cue.ParsePath("required")); reqVal.Exists() {
		req, err := reqVal.Bool()
		if err != nil {
			return f, formatCUEError(err)
		}
		f.Required = req
	}

	if maxVal := v.LookupPath(cue.ParsePath("maxLen")); maxVal.Exists() {
		if f.Kind != KindString {
			return f, &CompileError{
				Field:   name,
				Message: "maxLen applies only to string fields",
				Pos:     maxVal.Pos(),
			}
		}
		max, err := maxVal.Int64()
		if err != nil {
			return f, formatCUEError(err)
		}
		if max < 0 {
			return f, &CompileError{
				Field:   name,
				Message: "maxLen must be non-negative",
				Pos:     maxVal.Pos(),
			}
		}
		f.MaxLen = int(max)
	}

	if idVal := v.LookupPath(cue.ParsePath("identityKey")); idVal.Exists() {
		if f.Kind != KindList {
			return f, &CompileError{
				Field:   name,
				Message: "identityKey applies only to list fields",
				Pos:     idVal.Pos(),
			}
		}
		id, err := idVal.String()
		if err != nil {
			return f, formatCUEError(err)
		}
		f.IdentityKey = id
	}
	if f.Kind == KindList && f.IdentityKey == "" {
		f.IdentityKey = "id"
	}

	if nestedVal := v.LookupPath(cue.ParsePath("fields")); nestedVal.Exists() {
		if f.Kind != KindObject {
			return f, &CompileError{
				Field:   name,
				Message: "nested fields apply only to object fields",
				Pos:     nestedVal.Pos(),
			}
		}
		f.Fields = make(map[string]Field)
		iter, err := nestedVal.Fields()
		if err != nil {
			return f, formatCUEError(err)
		}
		for iter.Next() {
			nested, err := compileField(iter.Label(), iter.Value())
			if err != nil {
				return f, err
			}
			f.Fields[nested.Name] = nested
		}
	}
	return f, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
