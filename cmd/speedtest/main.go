// Command speedtest measures upload and download throughput against a TCP
// sink and an HTTP file server, then logs the rates in Mbit/s.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/tcp-speedtest/clock"
	"github.com/m-lab/tcp-speedtest/connector"
	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/metadata"
	"github.com/m-lab/tcp-speedtest/model"
	"github.com/m-lab/tcp-speedtest/netready"
	"github.com/m-lab/tcp-speedtest/platformx"
	"github.com/m-lab/tcp-speedtest/runner"
	"github.com/m-lab/tcp-speedtest/spec"
)

var (
	downloadHost  = flag.String("download.host", "", "Host serving the download file; empty skips the download")
	downloadPort  = flag.Int("download.port", spec.DefaultDownloadPort, "Port of the download HTTP server")
	downloadPath  = flag.String("download.path", spec.DefaultDownloadPath, "Path of the download file, starting with '/'")
	downloadLimit = flag.Uint64("download.limit", 0, "Stop the download after this many body bytes; 0 reads the whole body")
	uploadHost    = flag.String("upload.host", "", "Host running the upload sink; empty skips the upload")
	uploadPort    = flag.Int("upload.port", spec.DefaultUploadPort, "Port of the upload sink")
	uploadBytes   = flag.Uint64("upload.bytes", spec.DefaultUploadBytes, "Number of bytes to upload")
	chunkSize     = flag.Int("chunk", spec.DefaultChunkSize, "I/O buffer size in bytes")
	iface         = flag.String("iface", "", "Wait for an IPv4 address on this interface; empty means any")
	skipWait      = flag.Bool("skip-wait", false, "Do not wait for an IPv4 address before measuring")
	waitTimeout   = flag.Duration("wait.timeout", time.Minute, "Give up waiting for the network after this long")
	dataDir       = flag.String("datadir", "", "Directory in which to write archival records; empty disables them")
	compress      = flag.Bool("compress", false, "Gzip archival records")
	logLevel      = flag.String("log.level", "info", "Log level (debug, info, warn, error)")
	enableBBR     = flag.Bool("bbr", false, "Ask the kernel to use BBR for measurement connections")
	labels        flagx.StringArray

	// Context for the whole program.
	ctx, cancel = context.WithCancel(context.Background())

	osExit = os.Exit
)

func init() {
	flag.Var(&labels, "label", "Metadata for archival records as name=value; may be repeated")
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	rtx.Must(logging.SetLevel(*logLevel), "Bad -log.level")
	md, err := metadata.Parse(labels)
	rtx.Must(err, "Bad -label")
	defer cancel()
	platformx.WarnIfNotFullySupported()

	var waiter netready.Waiter = &netready.InterfaceWaiter{Name: *iface, Timeout: *waitTimeout}
	if *skipWait {
		waiter = netready.Assumed{}
	}
	r := &runner.Runner{
		Dialer:   &connector.Connector{EnableBBR: *enableBBR},
		Clock:    clock.Real{},
		Waiter:   waiter,
		DataDir:  *dataDir,
		Compress: *compress,
		Metadata: md,
	}

	failed := false
	if *uploadHost != "" {
		logging.Logger.WithFields(log.Fields{
			"host":  *uploadHost,
			"port":  *uploadPort,
			"bytes": *uploadBytes,
		}).Info("speedtest: upload")
		_, err := r.Upload(ctx, model.TransferSpec{
			Host:       *uploadHost,
			Port:       *uploadPort,
			TotalBytes: *uploadBytes,
			ChunkSize:  *chunkSize,
		})
		failed = failed || err != nil
	}
	if *downloadHost != "" {
		logging.Logger.WithFields(log.Fields{
			"host":  *downloadHost,
			"port":  *downloadPort,
			"path":  *downloadPath,
			"limit": *downloadLimit,
		}).Info("speedtest: download")
		_, err := r.Download(ctx, model.TransferSpec{
			Host:      *downloadHost,
			Port:      *downloadPort,
			Path:      *downloadPath,
			ByteCap:   *downloadLimit,
			ChunkSize: *chunkSize,
		})
		failed = failed || err != nil
	}
	if *uploadHost == "" && *downloadHost == "" {
		logging.Logger.Warn("speedtest: nothing to do; set -upload.host and/or -download.host")
	}
	if failed {
		osExit(1)
		return
	}
	logging.Logger.Info("speedtest: done")
}
