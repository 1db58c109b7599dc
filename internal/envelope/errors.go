package envelope

import "errors"

// Sentinel errors for envelope encoding and decoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMalformedEnvelope is returned by Decode when the input is not a
	// well-formed envelope.
	ErrMalformedEnvelope = errors.New("envelope: malformed envelope")

	// ErrSerialization is returned by Encode when the payload cannot be
	// marshalled or the result is too large to publish.
	ErrSerialization = errors.New("envelope: serialization failed")
)
