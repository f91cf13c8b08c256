package spec

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures by how the refinement loop treats them.
type Kind string

const (
	KindSpecInvalid            Kind = "SpecInvalid"            // fatal, before generation
	KindGenerationUnavailable  Kind = "GenerationUnavailable"  // degrades to unresolved findings
	KindVerificationFinding    Kind = "VerificationFinding"    // recoverable by repair
	KindSandboxFailure         Kind = "SandboxFailure"         // another iteration if budget remains
	KindResourceCleanupFailure Kind = "ResourceCleanupFailure" // logged only
)

var (
	ErrSpecInvalid           = errors.New("project spec invalid")
	ErrGenerationUnavailable = errors.New("generation oracle unavailable")
	ErrVerificationFinding   = errors.New("verification finding")
	ErrSandboxFailure        = errors.New("sandbox failure")
	ErrCleanupFailure        = errors.New("sandbox cleanup failure")
)

var kindSentinels = map[Kind]error{
	KindSpecInvalid:            ErrSpecInvalid,
	KindGenerationUnavailable:  ErrGenerationUnavailable,
	KindVerificationFinding:    ErrVerificationFinding,
	KindSandboxFailure:         ErrSandboxFailure,
	KindResourceCleanupFailure: ErrCleanupFailure,
}

// ForgeError is the unified error type carrying a Kind, the failing operation and a cause.
type ForgeError struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError creates a ForgeError.
func NewError(kind Kind, op string, err error) *ForgeError {
	return &ForgeError{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *ForgeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the cause.
func (e *ForgeError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *ForgeError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the Kind of the first ForgeError in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *ForgeError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	if errors.Is(err, ErrSpecInvalid) {
		return KindSpecInvalid, true
	}
	return "", false
}

// ValidationError lists every invariant a ProjectSpec violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "project spec invalid: " + strings.Join(e.Problems, "; ")
}

// Is lets callers test with errors.Is(err, ErrSpecInvalid).
func (e *ValidationError) Is(target error) bool { return target == ErrSpecInvalid }
