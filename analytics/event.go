// Package analytics implements the Pinpoint analytics category: a buffered
// event recorder that batches submissions in the background, and endpoint
// management for tying recorded events to a known user.
package analytics

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// Limits imposed by the remote event API on a single event.
const (
	maxNameLength = 50
	maxAttributes = 50
	maxMetrics    = 50
)

// Text codes attached to errors raised locally, before any network call.
const (
	// CodeInvalidEvent is returned when an event fails validation.
	CodeInvalidEvent = "INVALID_EVENT"
	// CodeRecorderClosed is returned when Record is called after Close.
	CodeRecorderClosed = "RECORDER_CLOSED"
	// CodeBufferFull is returned when the in-memory buffer is at capacity
	// and the event cannot be accepted.
	CodeBufferFull = "BUFFER_FULL"
	// CodeEmptyUserID is returned when IdentifyUser is called without a user.
	CodeEmptyUserID = "EMPTY_USER_ID"
)

// Event is one analytics event. ID and Timestamp may be left zero; Record
// fills them in.
type Event struct {
	ID         string
	Name       string
	Attributes map[string]string
	Metrics    map[string]float64
	Timestamp  time.Time
}

// Validate checks the event against the remote API's per-event limits.
func (e Event) Validate() error {
	err := validation.Errors{
		"name":       validation.Validate(e.Name, validation.Required, validation.Length(1, maxNameLength)),
		"attributes": validation.Validate(len(e.Attributes), validation.Max(maxAttributes)),
		"metrics":    validation.Validate(len(e.Metrics), validation.Max(maxMetrics)),
	}.Filter()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "event rejected").
			WithTextCode(CodeInvalidEvent).
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

// UserProfile describes the user behind an endpoint. All fields are optional.
type UserProfile struct {
	// Attributes are custom user attributes, each holding one or more values.
	Attributes map[string][]string
	// Metrics are custom numeric attributes attached to the endpoint.
	Metrics map[string]float64
	// Location fills the endpoint's demographic location fields.
	Location *UserLocation
}

// UserLocation is the location block of a user profile.
type UserLocation struct {
	City       string
	Country    string
	PostalCode string
	Region     string
}

// ErrorTextCode extracts the local text code from err, or "" when err did
// not originate from this package's validation checks.
func ErrorTextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}
