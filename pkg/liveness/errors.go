package liveness

import "errors"

var (
	// ErrLivenessFailed indicates the session completed but the fused
	// decision was against the subject being a live person.
	ErrLivenessFailed = errors.New("liveness verification failed")

	// ErrSessionTimeout indicates the challenge window elapsed before
	// all required stages completed.
	ErrSessionTimeout = errors.New("liveness session timed out")

	// ErrCaptureFailure indicates the frame source stopped delivering
	// frames mid-session.
	ErrCaptureFailure = errors.New("camera capture failed during liveness session")

	// ErrSessionCancelled indicates the caller cancelled the session.
	ErrSessionCancelled = errors.New("liveness session cancelled")
)
