// Package model contains the data exchanged between the connector, the
// meters and the reporting layer.
package model

import (
	"fmt"
	"net"
	"strconv"

	"github.com/m-lab/tcp-speedtest/spec"
)

// TransferSpec configures a single upload or download run. It is passed
// by value and never modified by the meters.
type TransferSpec struct {
	// Host is the target host name or IPv4 literal.
	Host string
	// Port is the target TCP port.
	Port int
	// Path is the HTTP request path. Only used by downloads.
	Path string
	// TotalBytes is the number of payload bytes to upload.
	TotalBytes uint64
	// ByteCap stops a download once this many body bytes have been
	// counted. Zero means read until EOF.
	ByteCap uint64
	// ChunkSize is the size of every read or write buffer.
	ChunkSize int
}

// Addr returns the host:port pair of the target.
func (ts TransferSpec) Addr() string {
	return net.JoinHostPort(ts.Host, strconv.Itoa(ts.Port))
}

// Validate checks the fields shared by both directions.
func (ts TransferSpec) Validate() error {
	if ts.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidSpec, ts.ChunkSize)
	}
	if ts.ChunkSize > spec.MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d exceeds %d bytes", ErrOutOfMemory, ts.ChunkSize, spec.MaxChunkSize)
	}
	if ts.Port < 0 || ts.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidSpec, ts.Port)
	}
	return nil
}

// TransferResult is produced once per meter invocation.
type TransferResult struct {
	// TotalBytes counts payload or body bytes only, never header bytes.
	TotalBytes uint64
	// ElapsedSeconds is the duration of the timed phase.
	ElapsedSeconds float64
	// TimedFromFirstPayloadByte is true when the timer started at the
	// first payload byte rather than at connect time.
	TimedFromFirstPayloadByte bool
	// HeaderBytes is the number of response header bytes discarded by a
	// download, including the boundary marker.
	HeaderBytes uint64 `json:",omitempty"`
	// Writes is the number of write calls issued by an upload.
	Writes uint64 `json:",omitempty"`
}

// RateMbps returns the throughput of the result in megabits per second.
func (r TransferResult) RateMbps() float64 {
	return RateMbps(r.TotalBytes, r.ElapsedSeconds)
}
