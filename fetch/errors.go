package fetch

import "fmt"

// ErrorKind classifies why an input could not be materialized.
type ErrorKind int

const (
	// BadInput covers invalid URLs, denied file types, and missing files.
	BadInput ErrorKind = iota
	// Cancelled means the user stopped the download mid-flight.
	Cancelled
	// SizeMismatch means the bytes on disk disagree with the advertised size.
	SizeMismatch
	// TooLarge means the input exceeds the transport size limit.
	TooLarge
	// RetryExhausted means every download attempt failed.
	RetryExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case BadInput:
		return "bad input"
	case Cancelled:
		return "cancelled"
	case SizeMismatch:
		return "size mismatch"
	case TooLarge:
		return "too large"
	case RetryExhausted:
		return "retry exhausted"
	}
	return "unknown"
}

// FetchError wraps a download failure with its classification so the
// pipeline can choose the right user-facing message.
type FetchError struct {
	Kind ErrorKind
	Ref  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Ref, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Ref, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }
