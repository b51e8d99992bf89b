package model

import (
	"time"

	"github.com/m-lab/tcp-speedtest/metadata"
	"github.com/m-lab/tcp-speedtest/spec"
)

// ArchivalData is the record saved for every run. It carries enough data
// for lightweight analysis without re-running the measurement.
type ArchivalData struct {
	UUID      string
	Direction spec.SubtestKind

	ServerAddr string
	ClientAddr string `json:",omitempty"`

	// CongestionControl is the kernel's algorithm for the stream, if known.
	CongestionControl string `json:",omitempty"`
	// ClientMetadata holds operator-supplied labels.
	ClientMetadata []metadata.NameValue `json:",omitempty"`

	StartTime time.Time
	EndTime   time.Time

	Spec   TransferSpec
	Result *TransferResult `json:",omitempty"`

	MeanThroughputMbps float64

	Error string `json:",omitempty"`
}
