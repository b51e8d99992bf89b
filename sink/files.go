package sink

import (
	"bytes"
	"net/http"
	"regexp"
	"strconv"

	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/spec"
)

// MaxFileSize bounds the synthetic files served by FileHandler.
const MaxFileSize = 1 << 30

var fileName = regexp.MustCompile(`^/([0-9]+)(B|KB|MB)\.bin$`)

// FileSize parses paths like /1MB.bin, /512KB.bin or /100B.bin into a
// byte count. Sizes are binary multiples.
func FileSize(path string) (int64, bool) {
	m := fileName.FindStringSubmatch(path)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	shift := uint(0)
	switch m[2] {
	case "KB":
		shift = 10
	case "MB":
		shift = 20
	}
	if n > MaxFileSize>>shift {
		return 0, false
	}
	return n << shift, true
}

// FileHandler serves synthetic download files of the size named in the
// request path. The response carries a Content-Length and the server
// closes the connection when the request asks for it.
type FileHandler struct{}

func (FileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	size, ok := FileSize(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	chunk := bytes.Repeat([]byte{spec.PayloadByte}, spec.SinkReadSize)
	for size > 0 {
		n := int64(len(chunk))
		if n > size {
			n = size
		}
		if _, err := w.Write(chunk[:n]); err != nil {
			logging.Logger.WithError(err).Debug("sink: client went away")
			return
		}
		size -= n
	}
}
