package bot

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/botsync/internal/fetch"
	"github.com/roach88/botsync/internal/schema"
)

// Operational conditions that end an update cycle early without failing it.
// Sources wrap these when the registry refuses service.
var (
	ErrOutOfPermittedHours        = errors.New("out of permitted hours")
	ErrSourceClosedForMaintenance = errors.New("source closed for maintenance")
)

// ErrAlphaSearchNotSupported is returned when alpha search is configured for
// a source that cannot search.
var ErrAlphaSearchNotSupported = errors.New("source does not support alpha search")

// RecordInvalid reports a record that failed schema validation.
type RecordInvalid struct {
	// Schema names the schema the record was checked against.
	Schema string

	// Violations lists every reason the record was rejected.
	Violations []schema.Violation
}

// Error implements the error interface.
func (e *RecordInvalid) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return fmt.Sprintf("record invalid against %s: %s", e.Schema, strings.Join(msgs, "; "))
}

// UpdateError wraps a failure while updating one record.
type UpdateError struct {
	ID  string
	Err error
}

// Error implements the error interface.
func (e *UpdateError) Error() string {
	return fmt.Sprintf("%s updating entry with uid: %s", e.Err, e.ID)
}

// Unwrap returns the underlying cause.
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// IsAbort returns true if err is one of the operational conditions that end
// a cycle early. Uses errors.Is to handle wrapped errors.
func IsAbort(err error) bool {
	return errors.Is(err, ErrOutOfPermittedHours) || errors.Is(err, ErrSourceClosedForMaintenance)
}

// IsRecordInvalid returns true if err is or wraps a *RecordInvalid.
func IsRecordInvalid(err error) bool {
	var ri *RecordInvalid
	return errors.As(err, &ri)
}

// errorClass names the kind of err for machine-readable output.
func errorClass(err error) string {
	switch {
	case IsRecordInvalid(err):
		return "RecordInvalid"
	case errors.Is(err, ErrOutOfPermittedHours):
		return "OutOfPermittedHours"
	case errors.Is(err, ErrSourceClosedForMaintenance):
		return "SourceClosedForMaintenance"
	case errors.Is(err, fetch.ErrSingleRecordUpdateNotImplemented):
		return "SingleRecordUpdateNotImplemented"
	}

	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		return "StatusError"
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.PkgPath() {
	case "errors", "fmt", "":
		return "Error"
	}
	return t.Name()
}
