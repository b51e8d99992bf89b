// Package upload implements the upload meter. It writes a fixed number of
// synthetic payload bytes to a stream and times the send phase, including
// the final half-close.
package upload

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/m-lab/go/warnonerror"
	"github.com/m-lab/tcp-speedtest/clock"
	"github.com/m-lab/tcp-speedtest/connector"
	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/model"
	"github.com/m-lab/tcp-speedtest/spec"
)

// Run sends ts.TotalBytes bytes over stream in chunks of at most
// ts.ChunkSize bytes, then shuts down the send direction. Run owns stream
// and closes it before returning, whatever the outcome. On error no
// result is returned: a run with a broken timing boundary is not
// meaningful.
func Run(stream connector.Stream, ts model.TransferSpec, clk clock.Clock) (*model.TransferResult, error) {
	defer warnonerror.Close(stream, "upload: ignoring stream.Close result")
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	logging.Logger.Debug("upload: start")
	defer logging.Logger.Debug("upload: stop")

	buf := bytes.Repeat([]byte{spec.PayloadByte}, ts.ChunkSize)
	chunk := uint64(ts.ChunkSize)
	var sent, writes uint64

	start := clk.Now()
	for sent < ts.TotalBytes {
		want := ts.TotalBytes - sent
		if want > chunk {
			want = chunk
		}
		n, err := stream.Write(buf[:want])
		writes++
		if n < 0 || uint64(n) > want {
			return nil, fmt.Errorf("%w: write returned %d for %d bytes", model.ErrIO, n, want)
		}
		sent += uint64(n)
		if err != nil {
			logging.Logger.WithError(err).Warn("upload: stream.Write failed")
			return nil, fmt.Errorf("%w: write after %d bytes: %w", model.ErrIO, sent, err)
		}
		if n == 0 {
			// A writer that accepts nothing without failing would spin here.
			return nil, fmt.Errorf("%w: write after %d bytes: %w", model.ErrIO, sent, io.ErrShortWrite)
		}
	}
	if err := stream.CloseWrite(); err != nil {
		logging.Logger.WithError(err).Warn("upload: stream.CloseWrite failed")
		return nil, fmt.Errorf("%w: half-close: %w", model.ErrIO, err)
	}
	end := clk.Now()

	result := &model.TransferResult{
		TotalBytes:                sent,
		ElapsedSeconds:            clk.Seconds(start, end),
		TimedFromFirstPayloadByte: true,
		Writes:                    writes,
	}
	logging.Logger.WithFields(log.Fields{
		"bytes":   result.TotalBytes,
		"seconds": result.ElapsedSeconds,
		"writes":  result.Writes,
	}).Debug("upload: done")
	return result, nil
}
