// Package tferrors defines the error kinds spec.md §7 enumerates and the
// fatal/non-fatal policy the engine applies to each. No wrapping library is
// used — the teacher returns bare errors throughout pmtiles/*.go, and
// nothing else in the example pack reaches for one either.
package tferrors

import (
	"errors"
	"fmt"
)

// Kind is one of spec.md §7's error kinds.
type Kind string

const (
	BadArgument          Kind = "bad_argument"
	IoFailure            Kind = "io_failure"
	SourceParseError     Kind = "source_parse_error"
	MissingNodeReference Kind = "missing_node_reference"
	ProfileRejected      Kind = "profile_rejected"
	GeometryInvalid      Kind = "geometry_invalid"
	OutOfDisk            Kind = "out_of_disk"
	Cancelled            Kind = "cancelled"
	Internal             Kind = "internal"
)

// Fatal reports whether an error of this kind must abort the whole run, per
// spec.md §7's policy table.
func (k Kind) Fatal() bool {
	switch k {
	case IoFailure, OutOfDisk, BadArgument, Cancelled:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with a Kind and an optional feature/tile
// identifier for logging.
type Error struct {
	Kind    Kind
	Feature uint64 // 0 if not applicable
	Cause   error
}

func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func NewForFeature(kind Kind, featureID uint64, cause error) *Error {
	return &Error{Kind: kind, Feature: featureID, Cause: cause}
}

func (e *Error) Error() string {
	if e.Feature != 0 {
		return fmt.Sprintf("%s: feature %d: %v", e.Kind, e.Feature, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the Kind of err, defaulting to Internal for errors that
// were never classified by this package.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Internal
}

// ExitCode maps a Kind to the process exit code spec.md §6 defines.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case BadArgument:
		return 1
	case IoFailure:
		if errors.Is(err, ErrMissingInput) {
			return 2
		}
		return 3
	default:
		return 3
	}
}

// ErrMissingInput marks a required input file that is missing. ExitCode
// maps an IoFailure wrapping it to exit code 2; no code in this module
// returns it.
var ErrMissingInput = errors.New("required input file is missing")
