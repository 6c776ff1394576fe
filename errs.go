package store

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrKeynotFound      = errors.New("key not found")
	ErrNoRow            = errors.New("no row")

	ErrUnknownEntity       = errors.New("unknown entity")
	ErrConverterResolution = errors.New("converter resolution failed")
	ErrConversion          = errors.New("conversion failed")
	ErrMaxDepth            = errors.New("maximum conversion depth exceeded")
	ErrNilEntity           = errors.New("entity is nil")
	ErrNotSupported        = errors.New("operation not supported by the store")
)

// UnknownEntityError reports a type or stored entity name with no registered metadata.
type UnknownEntityError struct {
	Name string
	Type reflect.Type
	Err  error
}

func (e *UnknownEntityError) Error() string {
	if e.Type != nil {
		msg := fmt.Sprintf("%s: no metadata for type %s", ErrUnknownEntity, e.Type)
		if e.Err != nil {
			msg += ". " + e.Err.Error()
		}
		return msg
	}

	return fmt.Sprintf("%s: no metadata registered under name %q", ErrUnknownEntity, e.Name)
}

func (e *UnknownEntityError) Is(target error) bool {
	return target == ErrUnknownEntity
}

func (e *UnknownEntityError) Unwrap() error {
	return e.Err
}

// ConverterResolutionError reports a converter reference that cannot be resolved or instantiated.
type ConverterResolutionError struct {
	Ref string
	Err error
}

func (e *ConverterResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %q: %s", ErrConverterResolution, e.Ref, e.Err.Error())
	}

	return fmt.Sprintf("%s: %q is not registered", ErrConverterResolution, e.Ref)
}

func (e *ConverterResolutionError) Is(target error) bool {
	return target == ErrConverterResolution
}

func (e *ConverterResolutionError) Unwrap() error {
	return e.Err
}

// ConversionError reports a value that cannot be coerced into the declared type of a field.
type ConversionError struct {
	Entity string
	Field  string
	Value  any
	Target reflect.Type
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: %s.%s", ErrConversion, e.Entity, e.Field)
	if e.Target != nil {
		msg += fmt.Sprintf(": cannot use %#v (%T) as %s", e.Value, e.Value, e.Target)
	}

	if e.Err != nil {
		msg += ". " + e.Err.Error()
	}

	return msg
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func conversionError(meta *EntityMetadata, fd *FieldDescriptor, value any, err error) error {
	var ce *ConversionError
	if errors.As(err, &ce) && ce.Entity != "" {
		return err
	}

	e := &ConversionError{Value: value, Err: err}
	if meta != nil {
		e.Entity = meta.Name
	}

	if fd != nil {
		e.Field = fd.Name
		e.Target = fd.Type
	}

	if ce != nil {
		e.Target = ce.Target
		e.Err = ce.Err
	}

	return e
}
