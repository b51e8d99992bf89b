//go:build !linux

package platformx

import (
	"github.com/m-lab/tcp-speedtest/logging"
)

func maybeEmitWarning() {
	logging.Logger.Warn("This platform is not officially supported. It will work with reduced functionality.")
}
