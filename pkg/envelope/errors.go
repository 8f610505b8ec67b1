package envelope

import "errors"

var (
	// ErrValidation reports malformed construction input.
	ErrValidation = errors.New("envelope: validation failed")
	// ErrDecode reports a gzip or JSON failure while resolving the payload.
	ErrDecode = errors.New("envelope: decode failed")
	// ErrInvalidState is returned when the envelope holds neither a
	// compressed buffer nor a decoded value.
	ErrInvalidState = errors.New("envelope: no payload to decode")
)
