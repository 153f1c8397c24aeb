package state

import (
	"fmt"
	"reflect"
)

// Tag partitions module members into persisted status and configuration setup.
type Tag int

const (
	TagStatus Tag = iota + 1
	TagSetup
)

func (t Tag) String() string {
	switch t {
	case TagStatus:
		return "status"
	case TagSetup:
		return "setup"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Field declares one module member taking part in export/import. Ptr points at
// the backing variable.
type Field struct {
	Name   string
	Tag    Tag
	Hidden bool
	Ptr    any
}

// Status declares a status field, autosaved and listed by the status command.
func Status(name string, ptr any) Field {
	return Field{Name: name, Tag: TagStatus, Ptr: ptr}
}

// HiddenStatus declares a status field that is autosaved but not listed.
func HiddenStatus(name string, ptr any) Field {
	return Field{Name: name, Tag: TagStatus, Hidden: true, Ptr: ptr}
}

// Setup declares a configuration field, read from setup files and never autosaved.
func Setup(name string, ptr any) Field {
	return Field{Name: name, Tag: TagSetup, Ptr: ptr}
}

// Holder is anything declaring fields, typically a module.
type Holder interface {
	Fields() []Field
}

// Validate checks a declaration: names are unique and non-empty, every field has
// exactly one known tag and a non-nil pointer.
func Validate(fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if field.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if _, dup := seen[field.Name]; dup {
			return fmt.Errorf("field %q declared more than once", field.Name)
		}
		seen[field.Name] = struct{}{}

		if field.Tag != TagStatus && field.Tag != TagSetup {
			return fmt.Errorf("field %q has unknown tag %v", field.Name, field.Tag)
		}

		value := reflect.ValueOf(field.Ptr)
		if value.Kind() != reflect.Pointer || value.IsNil() {
			return fmt.Errorf("field %q must be backed by a non-nil pointer", field.Name)
		}
	}

	return nil
}

func (f Field) target() reflect.Value {
	return reflect.ValueOf(f.Ptr).Elem()
}

func (f Field) value() any {
	return f.target().Interface()
}
