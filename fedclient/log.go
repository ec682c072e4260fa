// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fedclient

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btclog"
)

// log is a logger that is initialized with no output filters.  This
// means the package will not perform any logging by default until the caller
// requests it.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	DisableLog()
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// badgerLogger routes badger's internal messages to the package logger.
// Badger terminates its lines itself.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error(trimmed(format, args))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn(trimmed(format, args))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug(trimmed(format, args))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Trace(trimmed(format, args))
}

func trimmed(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
