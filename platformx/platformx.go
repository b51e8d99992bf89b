// Package platformx contains platform specific code
package platformx

// WarnIfNotFullySupported will emit a warning if the platform cannot read
// TCP_INFO, derive socket UUIDs or switch congestion control.
func WarnIfNotFullySupported() {
	maybeEmitWarning()
}
