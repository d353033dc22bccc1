package logging

type fieldCapable interface {
	WithField(key, value string) Logger
}

// WithField returns a logger that tags log lines with key=value.
func WithField(logger Logger, key, value string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if value == "" {
		return logger
	}
	if capable, ok := logger.(fieldCapable); ok {
		return capable.WithField(key, value)
	}
	return &fieldLogger{logger: logger, prefix: key + "=" + value + " "}
}

type fieldLogger struct {
	logger Logger
	prefix string
}

// WithField stacks another tag after the existing ones.
func (l *fieldLogger) WithField(key, value string) Logger {
	if value == "" {
		return l
	}
	return &fieldLogger{logger: l.logger, prefix: l.prefix + key + "=" + value + " "}
}

func (l *fieldLogger) Debug(format string, args ...any) {
	l.logger.Debug(l.prefix+format, args...)
}

func (l *fieldLogger) Info(format string, args ...any) {
	l.logger.Info(l.prefix+format, args...)
}

func (l *fieldLogger) Warn(format string, args ...any) {
	l.logger.Warn(l.prefix+format, args...)
}

func (l *fieldLogger) Error(format string, args ...any) {
	l.logger.Error(l.prefix+format, args...)
}
