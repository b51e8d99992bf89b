package sink

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/testingx"
	"github.com/m-lab/tcp-speedtest/clock"
	"github.com/m-lab/tcp-speedtest/connector"
	"github.com/m-lab/tcp-speedtest/download"
	"github.com/m-lab/tcp-speedtest/model"
	"github.com/m-lab/tcp-speedtest/spec"
	"github.com/m-lab/tcp-speedtest/upload"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startSink(t *testing.T, ctx context.Context) (*Server, <-chan Record) {
	records := make(chan Record, 4)
	s := &Server{OnRecord: func(r Record) { records <- r }}
	testingx.Must(t, s.ListenAndServe(ctx, "127.0.0.1:0"), "Could not start sink")
	return s, records
}

func TestServerDrainsUpload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, records := startSink(t, ctx)
	defer s.Wait()
	defer cancel()

	port := s.Addr().(*net.TCPAddr).Port
	c := &connector.Connector{}
	stream, err := c.Connect(ctx, "127.0.0.1", port)
	testingx.Must(t, err, "Could not connect")
	const total = 3*spec.DefaultChunkSize + 17
	res, err := upload.Run(stream, model.TransferSpec{TotalBytes: total, ChunkSize: spec.DefaultChunkSize}, clock.Real{})
	testingx.Must(t, err, "Upload failed")
	if res.TotalBytes != total {
		t.Errorf("client sent %d bytes, want %d", res.TotalBytes, total)
	}

	select {
	case rec := <-records:
		if rec.Bytes != total {
			t.Errorf("sink received %d bytes, want %d", rec.Bytes, total)
		}
		if rec.Error != "" {
			t.Errorf("sink error: %s", rec.Error)
		}
		if rec.UUID == "" {
			t.Error("record has no UUID")
		}
		// Drain snapshots TCP_INFO after EOF, so the FIN may be counted.
		if runtime.GOOS == "linux" {
			if rec.TCPInfo == nil {
				t.Error("record has no TCPInfo")
			} else if got := rec.TCPInfo.BytesReceived; got != total && got != total+1 {
				t.Errorf("TCPInfo.BytesReceived = %d, want %d (%d with the FIN)", got, total, total+1)
			}
		}
	case <-time.After(10 * time.Second):
		t.Fatal("sink never reported the upload")
	}
}

func TestServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, records := startSink(t, ctx)
	conn, err := net.Dial("tcp4", s.Addr().String())
	rtx.Must(err, "Could not dial")
	defer conn.Close()
	conn.Write([]byte("partial"))
	// Give the handler a moment to block in Read before canceling.
	time.Sleep(50 * time.Millisecond)
	cancel()
	s.Wait()
	rec := <-records
	if rec.Error == "" {
		t.Error("a canceled drain should report an error")
	}
	if _, err := net.Dial("tcp4", s.Addr().String()); err == nil {
		t.Error("listener should be closed after cancel")
	}
}

func TestListenAndServeTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := startSink(t, ctx)
	defer s.Wait()
	defer cancel()
	other := &Server{}
	if err := other.ListenAndServe(ctx, s.Addr().String()); err == nil {
		t.Error("We should not have been able to listen twice on the same port")
	}
}

func TestFileSize(t *testing.T) {
	tests := []struct {
		path string
		want int64
		ok   bool
	}{
		{"/1MB.bin", 1 << 20, true},
		{"/512KB.bin", 512 << 10, true},
		{"/100B.bin", 100, true},
		{"/0B.bin", 0, true},
		{"/2048MB.bin", 0, false},
		{"/9000000000000MB.bin", 0, false},
		{"/1GB.bin", 0, false},
		{"/index.html", 0, false},
		{"/1MB.bin/x", 0, false},
		{"/99999999999999999999B.bin", 0, false},
	}
	for _, tt := range tests {
		got, ok := FileSize(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FileSize(%q) = %d, %v; want %d, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFileHandler(t *testing.T) {
	srv := httptest.NewServer(FileHandler{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/100KB.bin")
	rtx.Must(err, "Could not GET")
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	rtx.Must(err, "Could not read body")
	if resp.StatusCode != 200 || len(body) != 100<<10 {
		t.Errorf("status %d, %d bytes", resp.StatusCode, len(body))
	}
	if !bytes.Equal(body[:4], []byte{spec.PayloadByte, spec.PayloadByte, spec.PayloadByte, spec.PayloadByte}) {
		t.Errorf("unexpected payload % x", body[:4])
	}

	resp, err = http.Get(srv.URL + "/nope")
	rtx.Must(err, "Could not GET")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/1MB.bin", "text/plain", nil)
	rtx.Must(err, "Could not POST")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status %d, want 405", resp.StatusCode)
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestFileHandlerWithDownloadMeter(t *testing.T) {
	srv := httptest.NewServer(FileHandler{})
	defer srv.Close()
	addr := srv.Listener.Addr().(*net.TCPAddr)

	for _, tt := range []struct {
		path string
		cap  uint64
		want uint64
	}{
		{"/1MB.bin", 0, 1 << 20},
		{"/1MB.bin", 100000, 100000},
		{"/0B.bin", 0, 0},
	} {
		c := &connector.Connector{}
		stream, err := c.Connect(context.Background(), "127.0.0.1", addr.Port)
		rtx.Must(err, "Could not connect")
		ts := model.TransferSpec{
			Host: "127.0.0.1", Port: addr.Port, Path: tt.path,
			ByteCap: tt.cap, ChunkSize: spec.DefaultChunkSize,
		}
		res, err := download.Run(stream, ts, clock.Real{})
		if err != nil {
			t.Fatalf("%s cap %d: %v", tt.path, tt.cap, err)
		}
		if res.TotalBytes != tt.want {
			t.Errorf("%s cap %d: TotalBytes = %d, want %d", tt.path, tt.cap, res.TotalBytes, tt.want)
		}
		if !bytes.Contains(download.Request(ts), []byte("Host: 127.0.0.1:"+strconv.Itoa(addr.Port))) {
			t.Error("request lacks the Host header")
		}
	}
}
