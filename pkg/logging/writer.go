package logging

import (
	"bytes"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerWriter struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLoggerWriter returns a writer that logs each line written to it
// at the given level. Use it to redirect the output streams of
// external processes, such as the provisioning engine's progress
// stream, into the logger.
func NewLoggerWriter(logger *zap.Logger, level zapcore.Level) io.Writer {
	return &loggerWriter{logger: logger, level: level}
}

func (w *loggerWriter) Write(p []byte) (n int, err error) {
	var lines []string
	if bytes.Contains(p, []byte{'\n'}) {
		lineBytes := bytes.Split(p, []byte{'\n'})
		lines = make([]string, 0, len(lineBytes))
		for _, line := range lineBytes {
			if len(line) != 0 {
				lines = append(lines, string(line))
			}
		}
	} else {
		lines = []string{string(p)}
	}
	for _, line := range lines {
		if ce := w.logger.Check(w.level, line); ce != nil {
			ce.Write()
		}
	}
	return len(p), nil
}
