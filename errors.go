package recordx

import (
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrorCode represents specific error codes for record operations.
type ErrorCode int

const (
	// ErrCodeNotFound is returned when a document does not exist in the store.
	ErrCodeNotFound ErrorCode = iota + 1000

	// ErrCodePoolTimeout is returned when a pool checkout exceeds its timeout.
	ErrCodePoolTimeout

	// ErrCodePoolClosed is returned when a handle is requested from a closed pool.
	ErrCodePoolClosed

	// ErrCodeRecordInvalid is returned by strict persistence methods on invalid records.
	ErrCodeRecordInvalid

	// ErrCodeInvalidCriteria is returned when a backend cannot interpret search criteria.
	ErrCodeInvalidCriteria

	// ErrCodeNotImplemented is returned when a backend does not support an operation.
	ErrCodeNotImplemented

	// ErrCodeBackendUnavailable is returned when the document store is unavailable.
	ErrCodeBackendUnavailable
)

// String returns the human-readable string representation of the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrCodeNotFound:
		return "not found"
	case ErrCodePoolTimeout:
		return "pool checkout timed out"
	case ErrCodePoolClosed:
		return "pool closed"
	case ErrCodeRecordInvalid:
		return "record invalid"
	case ErrCodeInvalidCriteria:
		return "invalid criteria"
	case ErrCodeNotImplemented:
		return "not implemented"
	case ErrCodeBackendUnavailable:
		return "backend unavailable"
	default:
		return "unknown error"
	}
}

// newErrorWithCode creates a new error with a code and message.
func newErrorWithCode(code ErrorCode, msg string) error {
	err := errors.New(msg)
	return errors.WithSecondaryError(err, errors.Newf("code: %d", int(code)))
}

// Common errors returned by record operations. Backends wrap these so callers
// can classify failures with errors.Is.
var (
	// ErrNotFound is returned when a document is absent from the store.
	ErrNotFound = newErrorWithCode(ErrCodeNotFound, "recordx: not found")

	// ErrPoolTimeout is returned when no pooled handle became free in time.
	ErrPoolTimeout = newErrorWithCode(ErrCodePoolTimeout, "recordx: pool checkout timed out")

	// ErrPoolClosed is returned when checking out from a pool that was shut down.
	ErrPoolClosed = newErrorWithCode(ErrCodePoolClosed, "recordx: pool closed")

	// ErrRecordInvalid matches every *RecordInvalidError.
	ErrRecordInvalid = newErrorWithCode(ErrCodeRecordInvalid, "recordx: record invalid")

	// ErrInvalidCriteria is returned when search criteria cannot be interpreted.
	ErrInvalidCriteria = newErrorWithCode(ErrCodeInvalidCriteria, "recordx: invalid criteria")

	// ErrNotImplemented is returned when a backend does not support an operation.
	ErrNotImplemented = newErrorWithCode(ErrCodeNotImplemented, "recordx: not implemented")

	// ErrBackendUnavailable is returned when the document store cannot be reached.
	ErrBackendUnavailable = newErrorWithCode(ErrCodeBackendUnavailable, "recordx: backend unavailable")
)

const recordInvalidKey = "Validation failed: %s"

func init() {
	_ = message.SetString(language.German, recordInvalidKey, "Gültigkeitsprüfung ist fehlgeschlagen: %s")
	_ = message.SetString(language.German, blankKey, "muss ausgefüllt werden")
	_ = message.SetString(language.French, recordInvalidKey, "La validation a échoué : %s")
	_ = message.SetString(language.French, blankKey, "doit être rempli(e)")
}

// RecordInvalidError is returned by the strict persistence variants
// (SaveStrict, CreateStrict, UpdateAttributesStrict) when validation fails.
type RecordInvalidError struct {
	Record *Record
}

// Error implements error using the English catalog.
func (e *RecordInvalidError) Error() string {
	return e.Localize(language.English)
}

// Localize renders the message in the given language, falling back to English.
func (e *RecordInvalidError) Localize(tag language.Tag) string {
	p := message.NewPrinter(tag)
	var msgs []string
	if e.Record != nil {
		msgs = e.Record.Errors().localizedMessages(p)
	}
	return p.Sprintf(recordInvalidKey, strings.Join(msgs, ", "))
}

// Is reports whether target is ErrRecordInvalid.
func (e *RecordInvalidError) Is(target error) bool {
	return target == ErrRecordInvalid
}
