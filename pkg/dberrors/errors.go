// Package dberrors holds the error taxonomy shared by every engine package.
//
// Misses are not errors inside the engine: lookups report them through
// record.Data states. ErrNotFound is for outer surfaces such as the HTTP
// API that turn a miss into a failed request. Everything else here is a
// fault the caller has to act on.
package dberrors

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"gendb/pkg/types"
)

var (
	ErrNotFound        = errors.New("gendb: not found")
	ErrClosed          = errors.New("gendb: closed")
	ErrInvalidArgument = errors.New("gendb: invalid argument")
	ErrInvalidState    = errors.New("gendb: invalid state")
	ErrReservedKey     = errors.New("gendb: key is in the reserved keyspace")
	ErrGroupClosed     = errors.New("gendb: write group already closed")
	ErrStaleCandidate  = errors.New("gendb: merge candidate references unmapped segment")

	// ErrLogGap marks every LogGapError.
	ErrLogGap = errors.New("gendb: log gap")
	// ErrInvariant marks structural invariant violations.
	ErrInvariant = errors.New("gendb: structural invariant violation")
	// ErrAllocation marks region allocation failures.
	ErrAllocation = errors.New("gendb: allocation failure")
	// ErrCorrupted marks undecodable on-disk data.
	ErrCorrupted = errors.New("gendb: corrupted data")
)

// LogGapError reports that a log read did not start at the expected
// sequence number. The engine cannot recover from it locally.
type LogGapError struct {
	Expected types.SeqN
	Got      types.SeqN
}

func (e *LogGapError) Error() string {
	return fmt.Sprintf("gendb: log gap: expected seq %d, first record has seq %d", e.Expected, e.Got)
}

// NewLogGap returns a LogGapError marked with ErrLogGap.
func NewLogGap(expected, got types.SeqN) error {
	return errors.Mark(&LogGapError{Expected: expected, Got: got}, ErrLogGap)
}

// Invariantf builds an assertion failure marked with ErrInvariant.
func Invariantf(format string, args ...any) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), ErrInvariant)
}

// Allocationf builds an allocation failure marked with ErrAllocation.
func Allocationf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrAllocation)
}

// Corruptedf builds a decode failure marked with ErrCorrupted.
func Corruptedf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorrupted)
}
