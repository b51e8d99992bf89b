// Package spec contains the constants shared by the speedtest meters,
// the sink server and the command line tools.
package spec

// Version is the tool version reported in the User-Agent header.
const Version = "0.1.0"

// UserAgent is the User-Agent sent with download requests.
const UserAgent = "tcp-speedtest/" + Version

// DefaultChunkSize is the I/O buffer size used by both meters. 32 KiB
// leaves enough headroom on small devices while still filling the
// socket buffer.
const DefaultChunkSize = 32 << 10

// MaxChunkSize is the largest I/O buffer a meter will allocate. Larger
// requests fail with model.ErrOutOfMemory.
const MaxChunkSize = 4 << 20

// SinkReadSize is the read size used by the upload sink.
const SinkReadSize = 64 << 10

// HeaderBoundary terminates the header section of an HTTP/1.1 message.
const HeaderBoundary = "\r\n\r\n"

// PayloadByte fills the synthetic upload payload.
const PayloadByte = 0xA5

// Default endpoints used by cmd/speedtest.
const (
	DefaultDownloadPort = 8080
	DefaultDownloadPath = "/1MB.bin"
	DefaultUploadPort   = 5001
	DefaultUploadBytes  = 1 << 10
)

// SubtestKind indicates the subtest kind
type SubtestKind string

const (
	// SubtestDownload is a download subtest
	SubtestDownload = SubtestKind("download")

	// SubtestUpload is a upload subtest
	SubtestUpload = SubtestKind("upload")
)
