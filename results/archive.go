// Package results saves archival records of speedtest runs as one JSON
// document per file, optionally gzipped.
package results

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/m-lab/tcp-speedtest/logging"
	"github.com/m-lab/tcp-speedtest/model"
	"github.com/m-lab/tcp-speedtest/spec"
	"github.com/m-lab/tcp-speedtest/uuidx"
)

// Archive writes records below DataDir, laid out as
// speedtest/YYYY/MM/DD/speedtest-<kind>-<timestamp>.<uuid>.json[.gz].
type Archive struct {
	DataDir  string
	Compress bool
}

// Name returns the path a record of |kind| for |uuid| taken at |t| is
// saved under.
func (a *Archive) Name(kind spec.SubtestKind, uuid string, t time.Time) string {
	t = t.UTC()
	name := filepath.Join(a.DataDir, "speedtest", t.Format("2006/01/02"),
		fmt.Sprintf("speedtest-%s-%s.%s.json", kind, t.Format("20060102T150405.000000000Z"), uuid))
	if a.Compress {
		name += ".gz"
	}
	return name
}

// SaveRun saves a client measurement record. A record without a UUID gets
// a fresh one.
func (a *Archive) SaveRun(record *model.ArchivalData) (string, error) {
	id := record.UUID
	if id == "" {
		id = uuidx.New()
	}
	return a.Save(record.Direction, id, record.StartTime, record)
}

// Save encodes |v| as JSON into a new file and returns its name. Save
// never overwrites: an existing file with the same name is an error.
func (a *Archive) Save(kind spec.SubtestKind, uuid string, t time.Time, v interface{}) (string, error) {
	name := a.Name(kind, uuid, t)
	if err := a.write(name, v); err != nil {
		logging.Logger.WithError(err).WithField("name", name).Warn("results: cannot save record")
		return "", err
	}
	return name, nil
}

func (a *Archive) write(name string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}
	fp, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	var w io.Writer = fp
	var gz *gzip.Writer
	if a.Compress {
		gz, _ = gzip.NewWriterLevel(fp, gzip.BestSpeed)
		w = gz
	}
	err = json.NewEncoder(w).Encode(v)
	if gz != nil {
		err = errors.Join(err, gz.Close())
	}
	return errors.Join(err, fp.Close())
}
