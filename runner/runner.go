// Package runner sequences a speedtest run: wait for the network, connect,
// drive one meter over the stream, then report and archive the result.
package runner

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/tcp-speedtest/bbr"
	"github.com/m-lab/tcp-speedtest/clock"
	"github.com/m-lab/tcp-speedtest/connector"
	"github.com/m-lab/tcp-speedtest/download"
	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/metadata"
	"github.com/m-lab/tcp-speedtest/metrics"
	"github.com/m-lab/tcp-speedtest/model"
	"github.com/m-lab/tcp-speedtest/netready"
	"github.com/m-lab/tcp-speedtest/results"
	"github.com/m-lab/tcp-speedtest/spec"
	"github.com/m-lab/tcp-speedtest/upload"
	"github.com/m-lab/tcp-speedtest/uuidx"
)

// Dialer opens the stream a meter runs on. *connector.Connector
// implements it.
type Dialer interface {
	Connect(ctx context.Context, host string, port int) (connector.Stream, error)
}

// Meter drives a transfer over a stream it owns.
type Meter func(connector.Stream, model.TransferSpec, clock.Clock) (*model.TransferResult, error)

// Runner runs upload and download measurements. The zero value dials
// with a default connector, uses the real clock, assumes the network is
// up and does not archive results.
type Runner struct {
	Dialer Dialer
	Clock  clock.Clock
	Waiter netready.Waiter

	// DataDir, if set, is where archival records are written.
	DataDir  string
	Compress bool

	// Metadata is copied into every record.
	Metadata []metadata.NameValue

	waitOnce sync.Once
	waitErr  error
}

// Upload runs the upload meter against ts.Host:ts.Port.
func (r *Runner) Upload(ctx context.Context, ts model.TransferSpec) (*model.ArchivalData, error) {
	return r.Run(ctx, spec.SubtestUpload, ts, upload.Run)
}

// Download runs the download meter against ts.Host:ts.Port.
func (r *Runner) Download(ctx context.Context, ts model.TransferSpec) (*model.ArchivalData, error) {
	return r.Run(ctx, spec.SubtestDownload, ts, download.Run)
}

func (r *Runner) waitReady(ctx context.Context) error {
	r.waitOnce.Do(func() {
		w := r.Waiter
		if w == nil {
			w = netready.Assumed{}
		}
		r.waitErr = w.WaitReady(ctx)
	})
	return r.waitErr
}

func (r *Runner) dialer() Dialer {
	if r.Dialer == nil {
		return &connector.Connector{}
	}
	return r.Dialer
}

func (r *Runner) clock() clock.Clock {
	if r.Clock == nil {
		return clock.Real{}
	}
	return r.Clock
}

// Run drives |meter| over a fresh stream and always returns a record.
// The record's Error field is set when the returned error is non-nil.
func (r *Runner) Run(ctx context.Context, kind spec.SubtestKind, ts model.TransferSpec, meter Meter) (record *model.ArchivalData, err error) {
	record = &model.ArchivalData{
		Direction:      kind,
		ServerAddr:     ts.Addr(),
		Spec:           ts,
		StartTime:      time.Now(),
		ClientMetadata: r.Metadata,
	}
	defer func() {
		record.EndTime = time.Now()
		r.report(record, err)
	}()

	if err = r.waitReady(ctx); err != nil {
		return record, err
	}
	stream, err := r.dialer().Connect(ctx, ts.Host, ts.Port)
	if err != nil {
		return record, err
	}
	if tc, ok := stream.(*net.TCPConn); ok {
		record.UUID = uuidx.FromTCPConn(tc)
		record.ServerAddr = tc.RemoteAddr().String()
		record.ClientAddr = tc.LocalAddr().String()
		if cc, err := bbr.Algorithm(tc); err == nil {
			record.CongestionControl = cc
		}
	} else {
		record.UUID = uuidx.New()
	}
	// The meter owns the stream from here on and closes it.
	res, err := meter(stream, ts, r.clock())
	if err != nil {
		return record, err
	}
	record.Result = res
	record.MeanThroughputMbps = res.RateMbps()
	return record, nil
}

func (r *Runner) report(record *model.ArchivalData, err error) {
	direction := string(record.Direction)
	entry := logging.Logger.WithFields(log.Fields{
		"direction": direction,
		"server":    record.ServerAddr,
		"uuid":      record.UUID,
	})
	if err != nil {
		record.Error = err.Error()
		metrics.TestCount.WithLabelValues(direction, "error").Inc()
		metrics.ErrorCount.WithLabelValues(direction, model.ErrorLabel(err)).Inc()
		entry.WithError(err).Warn("runner: measurement failed")
	} else {
		metrics.TestCount.WithLabelValues(direction, "okay").Inc()
		metrics.TestRate.WithLabelValues(direction).Observe(record.MeanThroughputMbps)
		metrics.BytesTotal.WithLabelValues(direction).Add(float64(record.Result.TotalBytes))
		entry.WithFields(log.Fields{
			"bytes":   record.Result.TotalBytes,
			"seconds": record.Result.ElapsedSeconds,
			"mbps":    record.MeanThroughputMbps,
		}).Info("runner: measurement complete")
	}
	if r.DataDir == "" {
		return
	}
	archive := &results.Archive{DataDir: r.DataDir, Compress: r.Compress}
	if name, aerr := archive.SaveRun(record); aerr == nil {
		logging.Logger.WithField("name", name).Debug("runner: record saved")
	}
}
