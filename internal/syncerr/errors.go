// Package syncerr defines the closed taxonomy of synchronization failures
// reported by the cloud directory monitor, and the classification of opaque
// provider error codes into that taxonomy.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind identifies one member of the synchronization error taxonomy.
type Kind int

// Taxonomy members. KindUnclassified is the fallback for provider failures
// whose code is outside the known set.
const (
	KindUnclassified Kind = iota
	KindFileUnavailable
	KindFileNotUploadedDueToQuota
	KindUbiquityServerNotAvailable
	KindCloudNotAvailable
	KindContainerNotFound
)

// Kinds lists every classified member, in declaration order.
var Kinds = []Kind{
	KindFileUnavailable,
	KindFileNotUploadedDueToQuota,
	KindUbiquityServerNotAvailable,
	KindCloudNotAvailable,
	KindContainerNotFound,
}

// String returns the stable snake_case name used in logs and the journal.
func (k Kind) String() string {
	switch k {
	case KindFileUnavailable:
		return "file_unavailable"
	case KindFileNotUploadedDueToQuota:
		return "file_not_uploaded_due_to_quota"
	case KindUbiquityServerNotAvailable:
		return "ubiquity_server_not_available"
	case KindCloudNotAvailable:
		return "cloud_not_available"
	case KindContainerNotFound:
		return "container_not_found"
	default:
		return "unclassified"
	}
}

// Sentinel errors, one per taxonomy member.
// Use errors.Is(err, syncerr.ErrContainerNotFound) to check.
var (
	ErrFileUnavailable            = errors.New("syncerr: file not yet uploaded by another device")
	ErrFileNotUploadedDueToQuota  = errors.New("syncerr: upload blocked by quota")
	ErrUbiquityServerNotAvailable = errors.New("syncerr: cloud server not available")
	ErrCloudNotAvailable          = errors.New("syncerr: cloud is not available")
	ErrContainerNotFound          = errors.New("syncerr: container not found")
	ErrUnclassified               = errors.New("syncerr: unclassified provider error")
)

// Sentinel returns the sentinel error for the kind.
func (k Kind) Sentinel() error {
	switch k {
	case KindFileUnavailable:
		return ErrFileUnavailable
	case KindFileNotUploadedDueToQuota:
		return ErrFileNotUploadedDueToQuota
	case KindUbiquityServerNotAvailable:
		return ErrUbiquityServerNotAvailable
	case KindCloudNotAvailable:
		return ErrCloudNotAvailable
	case KindContainerNotFound:
		return ErrContainerNotFound
	default:
		return ErrUnclassified
	}
}

// Error is a classified synchronization failure. It matches its kind's
// sentinel via errors.Is and also unwraps to the underlying cause.
type Error struct {
	Kind Kind
	Code Code  // provider code the error was classified from; 0 if raised directly
	Err  error // underlying cause, may be nil
}

// New returns an Error of the given kind with no provider code or cause.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

func (e *Error) Error() string {
	msg := e.Kind.Sentinel().Error()

	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}

	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.Sentinel()}
	}

	return []error{e.Kind.Sentinel(), e.Err}
}

// Classified reports whether the error belongs to the closed taxonomy rather
// than the unclassified fallback.
func (e *Error) Classified() bool {
	return e.Kind != KindUnclassified
}

// FromError converts any error into an *Error. Errors that already are an
// *Error are returned as-is. A *ProviderError is classified by its code;
// codes outside the known set, and all other errors, become KindUnclassified.
// Returns nil for a nil error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return se
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		kind, ok := Classify(pe.Code)
		if !ok {
			kind = KindUnclassified
		}

		return &Error{Kind: kind, Code: pe.Code, Err: err}
	}

	return &Error{Kind: KindUnclassified, Err: err}
}
