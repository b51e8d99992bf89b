// Package download implements the download meter. It sends a minimal
// HTTP/1.1 GET request, discards the response header and times the body
// from its first byte until EOF or the byte cap.
package download

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/warnonerror"
	"github.com/m-lab/tcp-speedtest/clock"
	"github.com/m-lab/tcp-speedtest/connector"
	"github.com/m-lab/tcp-speedtest/httpsplit"
	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/model"
	"github.com/m-lab/tcp-speedtest/spec"
)

// State is the phase of a download run.
type State int

const (
	// Connecting is the phase before the stream is handed to Run.
	Connecting State = iota
	// RequestSent means the GET request has been written.
	RequestSent
	// AwaitingHeader means the response header boundary is not seen yet.
	AwaitingHeader
	// StreamingBody means body bytes are being counted and timed.
	StreamingBody
	// Done is terminal.
	Done
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case RequestSent:
		return "request-sent"
	case AwaitingHeader:
		return "awaiting-header"
	case StreamingBody:
		return "streaming-body"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// NoBodyError is returned when the stream ends before the header boundary
// is seen. It matches model.ErrNoBodyFound.
type NoBodyError struct {
	HeaderBytes uint64
}

func (e *NoBodyError) Error() string {
	return fmt.Sprintf("%v: stream ended after %d header bytes", model.ErrNoBodyFound, e.HeaderBytes)
}

// Unwrap returns model.ErrNoBodyFound.
func (e *NoBodyError) Unwrap() error {
	return model.ErrNoBodyFound
}

func validate(ts model.TransferSpec) error {
	if err := ts.Validate(); err != nil {
		return err
	}
	if !strings.HasPrefix(ts.Path, "/") {
		return fmt.Errorf("%w: path %q must start with '/'", model.ErrInvalidSpec, ts.Path)
	}
	if strings.ContainsAny(ts.Path, "\r\n ") || strings.ContainsAny(ts.Host, "\r\n ") || ts.Host == "" {
		return fmt.Errorf("%w: bad request target %q %q", model.ErrInvalidSpec, ts.Host, ts.Path)
	}
	return nil
}

// Request returns the GET request written by Run. The Host header carries
// the port unless it is 80.
func Request(ts model.TransferSpec) []byte {
	host := ts.Host
	if ts.Port != 80 {
		host = ts.Addr()
	}
	return []byte("GET " + ts.Path + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Connection: close\r\n" +
		"User-Agent: " + spec.UserAgent + "\r\n" +
		"\r\n")
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if n < 0 || n > len(p) {
			return fmt.Errorf("%w: write returned %d for %d bytes", model.ErrIO, n, len(p))
		}
		p = p[n:]
		if err != nil {
			return fmt.Errorf("%w: sending request: %w", model.ErrIO, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: sending request: %w", model.ErrIO, io.ErrShortWrite)
		}
	}
	return nil
}

type run struct {
	ts       model.TransferSpec
	clk      clock.Clock
	state    State
	splitter httpsplit.Splitter
	total    uint64
	start    time.Time
}

func (r *run) transition(to State) {
	logging.Logger.WithFields(log.Fields{
		"from": r.state.String(),
		"to":   to.String(),
	}).Debug("download: state")
	r.state = to
}

// count adds n body bytes without exceeding the cap.
func (r *run) count(n int) {
	r.total += uint64(n)
	if r.ts.ByteCap > 0 && r.total > r.ts.ByteCap {
		r.total = r.ts.ByteCap
	}
}

func (r *run) capped() bool {
	return r.ts.ByteCap > 0 && r.total >= r.ts.ByteCap
}

// readSize bounds body reads so the cap is never overshot.
func (r *run) readSize(bufsize int) int {
	if r.state != StreamingBody || r.ts.ByteCap == 0 {
		return bufsize
	}
	if remaining := r.ts.ByteCap - r.total; remaining < uint64(bufsize) {
		return int(remaining)
	}
	return bufsize
}

func (r *run) consume(p []byte) {
	if r.state == StreamingBody {
		r.count(len(p))
		return
	}
	_, body := r.splitter.Feed(p)
	if r.splitter.HeaderComplete() {
		r.start = r.clk.Now()
		r.transition(StreamingBody)
		r.count(len(body))
	}
}

// Run downloads ts.Path from the server at the other end of stream and
// measures the body throughput. Run owns stream and closes it before
// returning, whatever the outcome. A read error mid-body fails the run
// without a result. If the stream ends before the header boundary, Run
// returns a *NoBodyError.
func Run(stream connector.Stream, ts model.TransferSpec, clk clock.Clock) (*model.TransferResult, error) {
	defer warnonerror.Close(stream, "download: ignoring stream.Close result")
	if err := validate(ts); err != nil {
		return nil, err
	}
	r := &run{ts: ts, clk: clk}
	defer r.transition(Done)

	if err := writeFull(stream, Request(ts)); err != nil {
		logging.Logger.WithError(err).Warn("download: cannot send request")
		return nil, err
	}
	r.transition(RequestSent)

	buf := make([]byte, ts.ChunkSize)
	r.transition(AwaitingHeader)
	for !r.capped() {
		n, err := stream.Read(buf[:r.readSize(len(buf))])
		if n > 0 {
			r.consume(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			logging.Logger.WithError(err).Warn("download: stream.Read failed")
			return nil, fmt.Errorf("%w: read after %d body bytes: %w", model.ErrIO, r.total, err)
		}
	}
	if r.state != StreamingBody {
		err := &NoBodyError{HeaderBytes: r.splitter.HeaderBytes()}
		logging.Logger.WithError(err).Warn("download: header not found, no bytes counted")
		return nil, err
	}
	end := clk.Now()

	result := &model.TransferResult{
		TotalBytes:                r.total,
		ElapsedSeconds:            clk.Seconds(r.start, end),
		TimedFromFirstPayloadByte: true,
		HeaderBytes:               r.splitter.HeaderBytes(),
	}
	logging.Logger.WithFields(log.Fields{
		"bytes":        result.TotalBytes,
		"header_bytes": result.HeaderBytes,
		"seconds":      result.ElapsedSeconds,
		"capped":       r.capped(),
	}).Debug("download: done")
	return result, nil
}
