package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// EntryLeveller filters log entries by logger name the way hierarchical
// loggers do: an entry from "pulumi.preview" answers to a level
// configured for "pulumi". Loggers with no configured level fall
// through to the wrapped core's own level.
type EntryLeveller struct {
	zapcore.Core

	levels map[string]zapcore.Level
}

// NewEntryLeveller wraps core with per-logger-name level control. The
// levels map is copied; it is never written after construction.
func NewEntryLeveller(core zapcore.Core, levels map[string]zapcore.Level) *EntryLeveller {
	copied := make(map[string]zapcore.Level, len(levels))
	for name, level := range levels {
		copied[name] = level
	}
	return &EntryLeveller{Core: core, levels: copied}
}

func (el *EntryLeveller) With(f []zapcore.Field) zapcore.Core {
	return &EntryLeveller{Core: el.Core.With(f), levels: el.levels}
}

// levelFor resolves the level controlling a logger name, stripping
// dotted segments from the right until a configured entry matches. An
// entry under "" acts as the fallback for every named logger.
func (el *EntryLeveller) levelFor(name string) (zapcore.Level, bool) {
	for {
		if level, ok := el.levels[name]; ok {
			return level, true
		}
		i := strings.LastIndex(name, ".")
		if i < 0 {
			break
		}
		name = name[:i]
	}
	level, ok := el.levels[""]
	return level, ok
}

func (el *EntryLeveller) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.LoggerName == "" {
		return el.Core.Check(e, ce)
	}
	if level, ok := el.levelFor(e.LoggerName); ok {
		if e.Level < level {
			return ce
		}
		return ce.AddCore(e, el)
	}
	return el.Core.Check(e, ce)
}
