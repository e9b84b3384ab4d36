// Package monitoring owns process logging: the package-level Logf used by
// library code, and the logrus logger the commands configure at startup.
package monitoring

import "github.com/sirupsen/logrus"

// Logf is the diagnostic logger shared by the pipeline packages. It starts
// out on the logrus standard logger; commands swap in their configured
// logger with SetLogger and tests mute it with SetLogger(nil).
var Logf func(format string, v ...interface{}) = logrus.StandardLogger().Infof

// SetLogger replaces Logf. nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
