package wire

import "errors"

// ErrMalformedFrame indicates a frame whose length fields are
// inconsistent or whose buffer is shorter than the fixed-size portions.
// The frame is dropped; the session decides whether recurrence is fatal.
var ErrMalformedFrame = errors.New("malformed frame")
