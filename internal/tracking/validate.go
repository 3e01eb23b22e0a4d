package tracking

import (
	"regexp"
	"strings"
)

var trackingNumberPattern = regexp.MustCompile(`^[A-Z0-9]{8,20}$`)

const trackingNumberMsg = "trackingNumber must be 8-20 alphanumeric uppercase characters"

// NormalizeTrackingNumber trims surrounding whitespace.
func NormalizeTrackingNumber(tn string) string {
	return strings.TrimSpace(tn)
}

// ValidTrackingNumber reports whether tn is 8-20 uppercase letters or digits.
func ValidTrackingNumber(tn string) bool {
	return trackingNumberPattern.MatchString(tn)
}

// ValidateTrackingNumber returns a FieldErrors for a malformed tracking number.
// location is "params" or "body", mirroring where the value came from.
func ValidateTrackingNumber(location, tn string) error {
	if ValidTrackingNumber(tn) {
		return nil
	}
	return FieldErrors{{Location: location, Path: "trackingNumber", Msg: trackingNumberMsg, Value: tn}}
}

// ValidateCreate checks a create payload before any store access.
func ValidateCreate(in CreateInput) error {
	var errs FieldErrors
	if !ValidTrackingNumber(in.TrackingNumber) {
		errs = append(errs, FieldError{Location: "body", Path: "trackingNumber", Msg: trackingNumberMsg, Value: in.TrackingNumber})
	}
	if in.OwnerUserID != nil && strings.TrimSpace(*in.OwnerUserID) == "" {
		errs = append(errs, FieldError{Location: "body", Path: "ownerUserId", Msg: "ownerUserId must be a non-empty string when provided", Value: *in.OwnerUserID})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
