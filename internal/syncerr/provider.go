package syncerr

import "fmt"

// Code is an opaque provider error code.
type Code int

// Known provider codes. The values are the ubiquity error codes reported by
// the platform's cloud document provider.
const (
	// CodeFileUnavailable: the item has not been uploaded by another device yet.
	CodeFileUnavailable Code = 4353
	// CodeFileNotUploadedDueToQuota: uploading would put the account over quota.
	CodeFileNotUploadedDueToQuota Code = 4354
	// CodeUbiquityServerNotAvailable: connecting to the cloud servers failed.
	CodeUbiquityServerNotAvailable Code = 4355
)

// Classify maps a provider code to its taxonomy member. The second result is
// false for any code outside the known set; callers fall back to
// KindUnclassified. KindCloudNotAvailable and KindContainerNotFound are never
// produced here: the monitor raises them directly.
func Classify(code Code) (Kind, bool) {
	switch code {
	case CodeFileUnavailable:
		return KindFileUnavailable, true
	case CodeFileNotUploadedDueToQuota:
		return KindFileNotUploadedDueToQuota, true
	case CodeUbiquityServerNotAvailable:
		return KindUbiquityServerNotAvailable, true
	default:
		return KindUnclassified, false
	}
}

// ProviderError is a raw failure reported by the storage provider or a
// change source, carrying the provider's code for classification.
type ProviderError struct {
	Op   string
	Code Code
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: code %d: %v", e.Op, e.Code, e.Err)
	}

	return fmt.Sprintf("provider: %s: code %d", e.Op, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
