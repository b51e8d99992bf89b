package model

import "errors"

// Error kinds surfaced by the connector and the meters. Callers should
// match them with errors.Is; concrete errors wrap them with more detail.
var (
	// ErrResolution means the host did not resolve to any IPv4 address.
	ErrResolution = errors.New("host resolution failed")
	// ErrConnect means the TCP connection could not be established.
	ErrConnect = errors.New("connect failed")
	// ErrIO covers read and write failures during a transfer.
	ErrIO = errors.New("transfer i/o failed")
	// ErrNoBodyFound means the stream ended before the header boundary.
	ErrNoBodyFound = errors.New("no measurable body")
	// ErrOutOfMemory means the requested I/O buffer exceeds the budget.
	ErrOutOfMemory = errors.New("cannot allocate i/o buffer")
	// ErrInvalidSpec means the TransferSpec cannot drive a run.
	ErrInvalidSpec = errors.New("invalid transfer spec")
)

// ErrorLabel maps an error to the short label used by metrics and
// archival records.
func ErrorLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, ErrNoBodyFound):
		return "no-body"
	case errors.Is(err, ErrOutOfMemory):
		return "oom"
	case errors.Is(err, ErrInvalidSpec):
		return "invalid-spec"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "other"
	}
}
