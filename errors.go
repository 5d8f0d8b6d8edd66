package schemacodec

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure without tying callers to a concrete error
// type. Schema shape problems are detected early and cheaply, buffer
// problems are detected at the byte cursor, and the rest surface from the
// structural executor or the binary schema codec.
type ErrorKind int

const (
	// KindUnknown is never returned by this package; it is the zero value
	// used when a caller asks for the kind of a non-schemacodec error.
	KindUnknown ErrorKind = iota
	KindStructuralError
	KindBufferUnderrun
	KindBufferOverrun
	KindNoMatchingCase
	KindUnknownTLVTag
	KindUnknownPort
	KindModifierDomain
	KindReferenceNotFound
	KindReferenceBadPointer
	KindCircularReference
	KindBinarySchemaMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindStructuralError:
		return "StructuralError"
	case KindBufferUnderrun:
		return "BufferUnderrun"
	case KindBufferOverrun:
		return "BufferOverrun"
	case KindNoMatchingCase:
		return "NoMatchingCase"
	case KindUnknownTLVTag:
		return "UnknownTLVTag"
	case KindUnknownPort:
		return "UnknownPort"
	case KindModifierDomain:
		return "ModifierDomain"
	case KindReferenceNotFound:
		return "ReferenceNotFound"
	case KindReferenceBadPointer:
		return "ReferenceBadPointer"
	case KindCircularReference:
		return "CircularReference"
	case KindBinarySchemaMalformed:
		return "BinarySchemaMalformed"
	default:
		return "Unknown"
	}
}

// CodecError carries a kind, a human-readable message pointing at the field
// entry, and, where meaningful, the byte offset at which the fault occurred.
// It implements error and supports errors.Cause via pkg/errors wrapping.
type CodecError struct {
	Kind   ErrorKind
	Field  string // name of the field entry involved, if any
	Offset int    // byte offset in the payload, -1 if not meaningful
	msg    string
}

func (e *CodecError) Error() string {
	if e.Field == "" && e.Offset < 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	if e.Offset < 0 {
		return fmt.Sprintf("%s: field %q: %s", e.Kind, e.Field, e.msg)
	}
	return fmt.Sprintf("%s: field %q at byte %d: %s", e.Kind, e.Field, e.Offset, e.msg)
}

// newErr constructs a CodecError and wraps it with errors.WithStack so
// callers can recover a stack trace via github.com/pkg/errors facilities
// without this package needing its own trace plumbing.
func newErr(kind ErrorKind, field string, offset int, format string, args ...any) error {
	return errors.WithStack(&CodecError{
		Kind:   kind,
		Field:  field,
		Offset: offset,
		msg:    fmt.Sprintf(format, args...),
	})
}

// Kind extracts the ErrorKind from an error produced by this package,
// unwrapping any errors.Wrap/WithStack layers applied along the way.
func Kind(err error) ErrorKind {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

func errStructural(field, format string, args ...any) error {
	return newErr(KindStructuralError, field, -1, format, args...)
}

func errBufferUnderrun(field string, offset int, format string, args ...any) error {
	return newErr(KindBufferUnderrun, field, offset, format, args...)
}

func errBufferOverrun(field string, offset int, format string, args ...any) error {
	return newErr(KindBufferOverrun, field, offset, format, args...)
}

func errNoMatchingCase(field string, offset int, format string, args ...any) error {
	return newErr(KindNoMatchingCase, field, offset, format, args...)
}

func errUnknownTLVTag(field string, offset int, format string, args ...any) error {
	return newErr(KindUnknownTLVTag, field, offset, format, args...)
}

func errUnknownPort(format string, args ...any) error {
	return newErr(KindUnknownPort, "", -1, format, args...)
}

func errModifierDomain(field string, format string, args ...any) error {
	return newErr(KindModifierDomain, field, -1, format, args...)
}

func errReferenceNotFound(format string, args ...any) error {
	return newErr(KindReferenceNotFound, "", -1, format, args...)
}

func errReferenceBadPointer(format string, args ...any) error {
	return newErr(KindReferenceBadPointer, "", -1, format, args...)
}

func errCircularReference(format string, args ...any) error {
	return newErr(KindCircularReference, "", -1, format, args...)
}

func errBinarySchemaMalformed(format string, args ...any) error {
	return newErr(KindBinarySchemaMalformed, "", -1, format, args...)
}
