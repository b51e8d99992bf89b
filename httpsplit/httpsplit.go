// Package httpsplit separates the header section of an HTTP/1.1 response
// from its body as bytes arrive from a stream.
package httpsplit

import (
	"bytes"

	"github.com/m-lab/tcp-speedtest/spec"
)

var boundary = []byte(spec.HeaderBoundary)

// Splitter classifies response bytes as header or body. The zero value is
// ready to use. Bytes are withheld as header until the boundary marker is
// seen; after that every byte is body. The marker may span any number of
// Feed calls.
type Splitter struct {
	complete    bool
	headerBytes uint64
	// tail holds the last tailLen header bytes seen so far, the only bytes
	// that can begin a marker completed by the next Feed.
	tail    [len(spec.HeaderBoundary) - 1]byte
	tailLen int
}

// HeaderComplete reports whether the boundary marker has been seen.
func (s *Splitter) HeaderComplete() bool {
	return s.complete
}

// HeaderBytes returns the number of bytes classified as header, including
// the marker itself.
func (s *Splitter) HeaderBytes() uint64 {
	return s.headerBytes
}

// Feed consumes p. It returns how many leading bytes of p belong to the
// header and the slice of p that is body. The returned body aliases p.
// Feed does not copy p.
func (s *Splitter) Feed(p []byte) (headerConsumed int, body []byte) {
	if s.complete {
		return 0, p
	}
	if end, ok := s.findSpanning(p); ok {
		return s.finish(end, p)
	}
	if idx := bytes.Index(p, boundary); idx >= 0 {
		return s.finish(idx+len(boundary), p)
	}
	s.headerBytes += uint64(len(p))
	s.carry(p)
	return len(p), nil
}

// findSpanning looks for a marker that starts in the tail and ends in p.
// It returns the offset in p just past the marker.
func (s *Splitter) findSpanning(p []byte) (int, bool) {
	if s.tailLen == 0 {
		return 0, false
	}
	var buf [2*len(spec.HeaderBoundary) - 2]byte
	n := copy(buf[:], s.tail[:s.tailLen])
	n += copy(buf[n:], p)
	idx := bytes.Index(buf[:n], boundary)
	if idx < 0 {
		return 0, false
	}
	return idx + len(boundary) - s.tailLen, true
}

func (s *Splitter) finish(end int, p []byte) (int, []byte) {
	s.complete = true
	s.tailLen = 0
	s.headerBytes += uint64(end)
	return end, p[end:]
}

// carry keeps the last len(tail) bytes of the old tail followed by p.
func (s *Splitter) carry(p []byte) {
	if len(p) >= len(s.tail) {
		s.tailLen = copy(s.tail[:], p[len(p)-len(s.tail):])
		return
	}
	drop := s.tailLen + len(p) - len(s.tail)
	if drop > 0 {
		copy(s.tail[:], s.tail[drop:s.tailLen])
		s.tailLen -= drop
	}
	s.tailLen += copy(s.tail[s.tailLen:], p)
}
