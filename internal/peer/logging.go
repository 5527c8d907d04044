package peer

import (
	"sentinal-call/pkg/logger"

	"github.com/pion/logging"
	"go.uber.org/zap"
)

// zapLoggerFactory routes pion's internal logs into the application logger.
type zapLoggerFactory struct {
	log *logger.Logger
}

func newLoggerFactory(log *logger.Logger) logging.LoggerFactory {
	return zapLoggerFactory{log: log.Named("pion")}
}

func (f zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return zapLeveledLogger{s: f.log.Logger.With(zap.String("scope", scope)).Sugar()}
}

// Trace output is dropped; pion emits it per packet.
type zapLeveledLogger struct {
	s *zap.SugaredLogger
}

func (l zapLeveledLogger) Trace(string)                              {}
func (l zapLeveledLogger) Tracef(string, ...interface{})             {}
func (l zapLeveledLogger) Debug(msg string)                          { l.s.Debug(msg) }
func (l zapLeveledLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l zapLeveledLogger) Info(msg string)                           { l.s.Info(msg) }
func (l zapLeveledLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l zapLeveledLogger) Warn(msg string)                           { l.s.Warn(msg) }
func (l zapLeveledLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l zapLeveledLogger) Error(msg string)                          { l.s.Error(msg) }
func (l zapLeveledLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
