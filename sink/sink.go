// Package sink implements the peer side of the speedtest: a TCP sink that
// drains uploads until the client half-closes, and an HTTP handler that
// serves synthetic files for downloads.
package sink

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/warnonerror"
	"github.com/m-lab/tcp-info/tcp"
	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/metrics"
	"github.com/m-lab/tcp-speedtest/model"
	"github.com/m-lab/tcp-speedtest/spec"
	"github.com/m-lab/tcp-speedtest/tcpinfox"
	"github.com/m-lab/tcp-speedtest/uuidx"
)

// Record describes one drained upload connection.
type Record struct {
	UUID   string
	Client string

	StartTime time.Time
	EndTime   time.Time

	Bytes              uint64
	MeanThroughputMbps float64

	// TCPInfo is the kernel's view of the connection right after EOF, on
	// platforms that support TCP_INFO.
	TCPInfo *tcp.LinuxTCPInfo `json:",omitempty"`

	Error string `json:",omitempty"`
}

// Drain reads conn in chunks of readSize bytes until EOF and returns what
// it saw. Drain does not close conn.
func Drain(conn *net.TCPConn, readSize int) Record {
	rec := Record{
		UUID:      uuidx.FromTCPConn(conn),
		Client:    conn.RemoteAddr().String(),
		StartTime: time.Now(),
	}
	buf := make([]byte, readSize)
	for {
		n, err := conn.Read(buf)
		rec.Bytes += uint64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			rec.Error = err.Error()
			break
		}
	}
	rec.EndTime = time.Now()
	rec.MeanThroughputMbps = model.RateMbps(rec.Bytes, rec.EndTime.Sub(rec.StartTime).Seconds())
	info, err := tcpinfox.GetTCPInfo(conn)
	if err == nil {
		rec.TCPInfo = info
	} else if !errors.Is(err, tcpinfox.ErrNoSupport) {
		logging.Logger.WithError(err).Debug("sink: cannot read TCP_INFO")
	}
	return rec
}

// Server accepts upload connections and drains each one in its own
// goroutine.
type Server struct {
	// ReadSize is the read buffer size. Zero means spec.SinkReadSize.
	ReadSize int
	// OnRecord, if set, receives every Record once its connection closes.
	OnRecord func(Record)

	listener *net.TCPListener
	wg       sync.WaitGroup
}

// ListenAndServe listens on addr and serves in the background until ctx
// is canceled. It returns once the listener is bound, or with the listen
// error.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln.(*net.TCPListener)
	s.wg.Add(1)
	go s.serve(ctx)
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Wait blocks until the accept loop and every connection handler exit.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) serve(ctx context.Context) {
	defer s.wg.Done()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if ctx.Err() == nil {
				logging.Logger.WithError(err).Warn("sink: accept failed")
			}
			return
		}
		conn.SetKeepAlive(true)
		conn.SetKeepAlivePeriod(3 * time.Minute)
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn *net.TCPConn) {
	defer s.wg.Done()
	defer warnonerror.Close(conn, "sink: ignoring conn.Close result")
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock the pending read.
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	size := s.ReadSize
	if size <= 0 {
		size = spec.SinkReadSize
	}
	rec := Drain(conn, size)
	entry := logging.Logger.WithFields(log.Fields{
		"client": rec.Client,
		"uuid":   rec.UUID,
		"bytes":  rec.Bytes,
		"mbps":   rec.MeanThroughputMbps,
	})
	if rec.TCPInfo != nil {
		entry = entry.WithFields(log.Fields{
			"kernel_bytes_received": rec.TCPInfo.BytesReceived,
			"min_rtt_us":            rec.TCPInfo.MinRTT,
		})
	}
	metrics.SinkBytes.Add(float64(rec.Bytes))
	if rec.Error != "" {
		metrics.SinkConnections.WithLabelValues("error").Inc()
		entry.WithField("error", rec.Error).Warn("sink: connection ended with an error")
	} else {
		metrics.SinkConnections.WithLabelValues("okay").Inc()
		entry.Info("sink: received upload")
	}
	if s.OnRecord != nil {
		s.OnRecord(rec)
	}
}
