package logging

import (
	"go.uber.org/zap"
)

var logger *zap.SugaredLogger

// InitLogging initializes the global logger. In release mode the production
// JSON encoder is used, otherwise the human-readable development encoder.
func InitLogging(mode string) {
	var (
		base *zap.Logger
		err  error
	)
	if mode == "release" {
		base, err = zap.NewProduction(zap.AddCallerSkip(1))
	} else {
		base, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	}
	if err != nil {
		panic(err)
	}
	logger = base.Sugar()
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	if logger != nil {
		logger.Infof(format, v...)
	}
}

// Warnf logs warning level messages
func Warnf(format string, v ...interface{}) {
	if logger != nil {
		logger.Warnf(format, v...)
	}
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	if logger != nil {
		logger.Errorf(format, v...)
	}
}

// Sync flushes buffered log entries.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
