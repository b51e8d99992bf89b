// Package streamtest contains an in-memory connector.Stream for tests.
package streamtest

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by operations on a closed Stream.
var ErrClosed = errors.New("streamtest: stream closed")

// Stream is a scripted connector.Stream. Reads return the Reads chunks
// in order, one per call, then io.EOF (or ReadErr, if set). Writes are
// recorded; a positive MaxAccept bounds how many bytes each write
// accepts and a negative one makes every write accept nothing.
// FailAfterWrites makes the write with that 1-based index fail.
type Stream struct {
	Reads   [][]byte
	ReadErr error

	MaxAccept       int
	FailAfterWrites int
	WriteErr        error
	CloseWriteErr   error

	mu          sync.Mutex
	written     bytes.Buffer
	requests    []int
	closes      int
	writeClosed bool
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return 0, ErrClosed
	}
	if len(s.Reads) == 0 {
		if s.ReadErr != nil {
			return 0, s.ReadErr
		}
		return 0, io.EOF
	}
	n := copy(p, s.Reads[0])
	if n < len(s.Reads[0]) {
		s.Reads[0] = s.Reads[0][n:]
	} else {
		s.Reads = s.Reads[1:]
	}
	return n, nil
}

// Write implements io.Writer with optional short writes.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 || s.writeClosed {
		return 0, ErrClosed
	}
	s.requests = append(s.requests, len(p))
	if s.FailAfterWrites > 0 && len(s.requests) >= s.FailAfterWrites {
		err := s.WriteErr
		if err == nil {
			err = errors.New("streamtest: write failed")
		}
		return 0, err
	}
	n := len(p)
	if s.MaxAccept < 0 {
		n = 0
	} else if s.MaxAccept > 0 && n > s.MaxAccept {
		n = s.MaxAccept
	}
	s.written.Write(p[:n])
	return n, nil
}

// CloseWrite records the half-close.
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return ErrClosed
	}
	if s.CloseWriteErr != nil {
		return s.CloseWriteErr
	}
	s.writeClosed = true
	return nil
}

// Close records the close. Closing twice returns ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes > 1 {
		return ErrClosed
	}
	return nil
}

// Written returns a copy of every byte accepted by Write.
func (s *Stream) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written.Bytes()...)
}

// Requests returns the length requested by every Write call.
func (s *Stream) Requests() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.requests...)
}

// Closes returns how many times Close was called.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// WriteClosed reports whether CloseWrite succeeded.
func (s *Stream) WriteClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeClosed
}

// Split cuts data into chunks of the given sizes. The final chunk holds
// whatever remains.
func Split(data []byte, sizes ...int) [][]byte {
	var out [][]byte
	for _, n := range sizes {
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}
