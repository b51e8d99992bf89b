package download

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/tcp-speedtest/clock"
	"github.com/m-lab/tcp-speedtest/connector"
	"github.com/m-lab/tcp-speedtest/model"
	"github.com/m-lab/tcp-speedtest/spec"
	"github.com/m-lab/tcp-speedtest/streamtest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const hello = "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHELLO"

func testSpec() model.TransferSpec {
	return model.TransferSpec{Host: "10.0.0.1", Port: 8080, Path: "/1MB.bin", ChunkSize: 16}
}

func fakeClock() *clock.Fake {
	return &clock.Fake{Start: time.Unix(0, 0), Step: time.Second}
}

func TestRunHello(t *testing.T) {
	s := &streamtest.Stream{Reads: [][]byte{[]byte(hello)}}
	ts := testSpec()
	ts.ChunkSize = 1024
	res, err := Run(s, ts, fakeClock())
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalBytes != 5 {
		t.Errorf("TotalBytes = %d, want 5", res.TotalBytes)
	}
	if res.HeaderBytes != uint64(len(hello)-5) {
		t.Errorf("HeaderBytes = %d, want %d", res.HeaderBytes, len(hello)-5)
	}
	if !res.TimedFromFirstPayloadByte {
		t.Error("download is timed from the first body byte")
	}
	if !bytes.Equal(s.Written(), Request(ts)) {
		t.Errorf("request = %q", s.Written())
	}
	if s.Closes() != 1 {
		t.Errorf("stream closed %d times, want 1", s.Closes())
	}
}

func TestRunSplitReads(t *testing.T) {
	full := []byte(hello)
	for i := 1; i < len(full); i++ {
		s := &streamtest.Stream{Reads: streamtest.Split(full, i)}
		ts := testSpec()
		ts.ChunkSize = 1024
		res, err := Run(s, ts, fakeClock())
		if err != nil {
			t.Fatalf("split at %d: %v", i, err)
		}
		if res.TotalBytes != 5 {
			t.Errorf("split at %d: TotalBytes = %d, want 5", i, res.TotalBytes)
		}
	}
}

func TestRunTimingExcludesHeader(t *testing.T) {
	// Three header-only reads, then the boundary, then two body reads.
	s := &streamtest.Stream{Reads: [][]byte{
		[]byte("HTTP/1.1 200 OK\r\n"),
		[]byte("Server: x\r\n"),
		[]byte("\r\nAB"),
		[]byte("CD"),
		[]byte("EF"),
	}}
	clk := fakeClock()
	res, err := Run(s, testSpec(), clk)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalBytes != 6 {
		t.Errorf("TotalBytes = %d, want 6", res.TotalBytes)
	}
	// The clock is read once when the header completes and once at the end.
	if clk.Calls() != 2 || res.ElapsedSeconds != 1 {
		t.Errorf("clock read %d times, elapsed %f", clk.Calls(), res.ElapsedSeconds)
	}
}

func TestRunByteCap(t *testing.T) {
	payload := strings.Repeat("x", 100)
	tests := []struct {
		name  string
		reads [][]byte
		cap   uint64
		want  uint64
	}{
		{"unbounded", [][]byte{[]byte(hello[:len(hello)-5] + payload)}, 0, 100},
		{"cap-after-header-read", [][]byte{[]byte(hello[:len(hello)-5] + payload)}, 30, 30},
		{"cap-inside-header-read", [][]byte{[]byte(hello[:len(hello)-5] + payload[:10])}, 4, 4},
		{"cap-larger-than-body", [][]byte{[]byte(hello[:len(hello)-5] + payload)}, 1000, 100},
		{"cap-exact", [][]byte{[]byte(hello[:len(hello)-5]), []byte(payload)}, 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &streamtest.Stream{Reads: tt.reads}
			ts := testSpec()
			ts.ByteCap = tt.cap
			res, err := Run(s, ts, fakeClock())
			if err != nil {
				t.Fatal(err)
			}
			if res.TotalBytes != tt.want {
				t.Errorf("TotalBytes = %d, want %d", res.TotalBytes, tt.want)
			}
			if s.Closes() != 1 {
				t.Errorf("stream closed %d times, want 1", s.Closes())
			}
		})
	}
}

func TestRunNoBody(t *testing.T) {
	tests := []struct {
		name  string
		reads [][]byte
		want  uint64
	}{
		{"empty-stream", nil, 0},
		{"header-never-ends", [][]byte{[]byte("HTTP/1.1 200 OK\r\n"), []byte("Server: x\r\n\r")}, 29},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &streamtest.Stream{Reads: tt.reads}
			res, err := Run(s, testSpec(), fakeClock())
			if !errors.Is(err, model.ErrNoBodyFound) {
				t.Fatalf("Run() = %v, want ErrNoBodyFound", err)
			}
			if res != nil {
				t.Errorf("no-body must not be a zero-byte success, got %+v", res)
			}
			var nb *NoBodyError
			if !errors.As(err, &nb) || nb.HeaderBytes != tt.want {
				t.Errorf("NoBodyError = %+v, want %d header bytes", nb, tt.want)
			}
			if s.Closes() != 1 {
				t.Errorf("stream closed %d times, want 1", s.Closes())
			}
		})
	}
}

func TestRunErrors(t *testing.T) {
	badPath := testSpec()
	badPath.Path = "1MB.bin"
	injected := testSpec()
	injected.Path = "/x\r\nEvil: 1"
	noHost := testSpec()
	noHost.Host = ""
	huge := testSpec()
	huge.ChunkSize = spec.MaxChunkSize + 1
	tests := []struct {
		name   string
		stream *streamtest.Stream
		ts     model.TransferSpec
		want   error
	}{
		{"read-error-mid-body", &streamtest.Stream{Reads: [][]byte{[]byte(hello)}, ReadErr: errors.New("reset")}, testSpec(), model.ErrIO},
		{"read-error-in-header", &streamtest.Stream{Reads: [][]byte{[]byte("HTTP/1.1")}, ReadErr: errors.New("reset")}, testSpec(), model.ErrIO},
		{"request-write-fails", &streamtest.Stream{FailAfterWrites: 1}, testSpec(), model.ErrIO},
		{"request-write-stalls", &streamtest.Stream{MaxAccept: -1}, testSpec(), model.ErrIO},
		{"path-without-slash", &streamtest.Stream{}, badPath, model.ErrInvalidSpec},
		{"header-injection", &streamtest.Stream{}, injected, model.ErrInvalidSpec},
		{"no-host", &streamtest.Stream{}, noHost, model.ErrInvalidSpec},
		{"buffer-too-large", &streamtest.Stream{}, huge, model.ErrOutOfMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(tt.stream, tt.ts, fakeClock())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run() = %v, want %v", err, tt.want)
			}
			if res != nil {
				t.Errorf("a failed run must not report a result, got %+v", res)
			}
			if tt.stream.Closes() != 1 {
				t.Errorf("stream closed %d times, want 1", tt.stream.Closes())
			}
		})
	}
}

func TestRunShortRequestWrites(t *testing.T) {
	s := &streamtest.Stream{MaxAccept: 3, Reads: [][]byte{[]byte(hello)}}
	ts := testSpec()
	if _, err := Run(s, ts, fakeClock()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(s.Written(), Request(ts)) {
		t.Errorf("request = %q", s.Written())
	}
}

func TestRequest(t *testing.T) {
	ts := model.TransferSpec{Host: "example.com", Port: 80, Path: "/f.bin"}
	want := "GET /f.bin HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\nUser-Agent: " +
		spec.UserAgent + "\r\n\r\n"
	if got := string(Request(ts)); got != want {
		t.Errorf("Request() = %q, want %q", got, want)
	}
	ts.Port = 8080
	if !strings.Contains(string(Request(ts)), "Host: example.com:8080\r\n") {
		t.Errorf("Request() = %q, want the port in Host", Request(ts))
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Connecting:     "connecting",
		RequestSent:    "request-sent",
		AwaitingHeader: "awaiting-header",
		StreamingBody:  "streaming-body",
		Done:           "done",
		State(42):      "State(42)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestRunAgainstHTTPServer(t *testing.T) {
	const size = 1 << 20
	mux := http.NewServeMux()
	mux.HandleFunc("/1MB.bin", func(w http.ResponseWriter, r *http.Request) {
		if !r.Close {
			t.Error("request did not ask for Connection: close")
		}
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.Write(bytes.Repeat([]byte{'z'}, size))
	})
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: mux}
	rtx.Must(httpx.ListenAndServeAsync(srv), "Could not start server")
	defer srv.Close()

	host, portstr, err := net.SplitHostPort(srv.Addr)
	rtx.Must(err, "Could not split %s", srv.Addr)
	port, err := strconv.Atoi(portstr)
	rtx.Must(err, "Could not parse port")
	c := &connector.Connector{}
	stream, err := c.Connect(context.Background(), host, port)
	rtx.Must(err, "Could not connect")
	ts := model.TransferSpec{Host: host, Port: port, Path: "/1MB.bin", ChunkSize: spec.DefaultChunkSize}
	res, err := Run(stream, ts, clock.Real{})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalBytes != size {
		t.Errorf("TotalBytes = %d, want %d", res.TotalBytes, size)
	}
	if res.HeaderBytes == 0 {
		t.Error("the response header should have been discarded")
	}
}
