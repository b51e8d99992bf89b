// Command speedtest-sink is the peer for the speedtest client. It drains
// uploads on a TCP port and serves synthetic download files over HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"
	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/platformx"
	"github.com/m-lab/tcp-speedtest/results"
	"github.com/m-lab/tcp-speedtest/sink"
	"github.com/m-lab/tcp-speedtest/spec"
	"github.com/m-lab/tcp-speedtest/uuidx"
)

var (
	uploadAddr = flag.String("addr", ":5001", "Listen address for upload connections")
	httpAddr   = flag.String("http.addr", ":8080", "Listen address for the download file server")
	dataDir    = flag.String("datadir", "", "Directory in which to write upload records; empty disables them")
	compress   = flag.Bool("compress", true, "Gzip upload records")
	logLevel   = flag.String("log.level", "info", "Log level (debug, info, warn, error)")

	// Context for the whole program.
	ctx, cancel = context.WithCancel(context.Background())
)

func catchSigterm() {
	c := make(chan os.Signal, 1)
	defer signal.Stop(c)
	signal.Notify(c, syscall.SIGTERM)

	select {
	case <-c:
		logging.Logger.Info("Received SIGTERM")
		cancel()
	case <-ctx.Done():
		logging.Logger.Info("Canceled")
	}
}

// httpServer creates a new *http.Server with explicit Read and Write timeouts.
func httpServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}
}

func archive(rec sink.Record) {
	if *dataDir == "" {
		return
	}
	id := rec.UUID
	if id == "" {
		id = uuidx.New()
	}
	a := &results.Archive{DataDir: *dataDir, Compress: *compress}
	a.Save(spec.SubtestUpload, id, rec.StartTime, rec) // errors are logged by Save
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	rtx.Must(logging.SetLevel(*logLevel), "Bad -log.level")
	defer cancel()
	platformx.WarnIfNotFullySupported()

	promServer := prometheusx.MustServeMetrics()
	defer warnonerror.Close(promServer, "Could not close the metrics server")

	go catchSigterm()

	srv := &sink.Server{OnRecord: archive}
	rtx.Must(srv.ListenAndServe(ctx, *uploadAddr), "Could not listen for uploads")
	logging.Logger.Infof("Listening for uploads on %s", srv.Addr())

	mux := http.NewServeMux()
	mux.Handle("/", sink.FileHandler{})
	fileServer := httpServer(*httpAddr, logging.MakeAccessLogHandler(mux))
	rtx.Must(httpx.ListenAndServeAsync(fileServer), "Could not start the file server")
	logging.Logger.Infof("Serving download files on %s", fileServer.Addr)
	defer warnonerror.Close(fileServer, "Could not close the file server")

	<-ctx.Done()
	srv.Wait()
}
