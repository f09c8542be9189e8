package domain

import "errors"

var (
	// ErrTransport is returned when a frame cannot be sent or a capture read fails.
	ErrTransport = errors.New("transport error")
	// ErrNoCapture means a probe captured nothing within its timeout.
	ErrNoCapture = errors.New("no frame captured")
	// ErrPlaintextFrame is returned by IV operations on unprotected frames.
	ErrPlaintextFrame = errors.New("frame is not encrypted")
	// ErrAmbiguousResult marks a probe whose captures cannot be interpreted.
	ErrAmbiguousResult = errors.New("ambiguous result")
	// ErrMalformedFrame is returned for truncated or undecodable frames.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrChannelClosed is returned by a monitor channel after Close.
	ErrChannelClosed = errors.New("monitor channel closed")
	// ErrInvalidFragmentCount is returned for fragment counts outside 1..16.
	ErrInvalidFragmentCount = errors.New("fragment count must be between 1 and 16")
	// ErrReportNotFound is returned by report stores for unknown IDs.
	ErrReportNotFound = errors.New("report not found")
	// ErrTestInProgress is returned when a run is requested while another one holds the radios.
	ErrTestInProgress = errors.New("injection test already running")
)
