package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	impl struct {
		name  string
		level AtomicLevel
		inUTC bool

		appenders []Appender
	}

	// LogEntry embeds a zapcore Entry and slice of Fields.
	LogEntry struct {
		zapcore.Entry
		fields []zapcore.Field
	}
)

func (imp *impl) newEntry(level Level, msg string) *LogEntry {
	ret := &LogEntry{}
	ret.Time = time.Now()
	if imp.inUTC {
		ret.Time = ret.Time.UTC()
	}
	ret.LoggerName = imp.name
	ret.Caller = getCaller()
	ret.Level = level.AsZap()
	ret.Message = msg
	return ret
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders {
		err = multierr.Combine(err, appender.Sync())
	}
	return err
}

// enabled reports whether an entry at level should be written. Contexts in debug mode let debug
// entries through regardless of the logger's level.
func (imp *impl) enabled(ctx context.Context, level Level) bool {
	return level >= imp.level.Get() || (level == DEBUG && IsDebugMode(ctx))
}

func (imp *impl) write(ctx context.Context, entry *LogEntry) {
	if name := GetName(ctx); name != "" {
		entry.fields = append(entry.fields, zap.String("debug_key", name))
	}
	for _, appender := range imp.appenders {
		if err := appender.Write(entry.Entry, entry.fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// logp, logf and logw are called directly by the public methods; getCaller depends on it.
func (imp *impl) logp(ctx context.Context, level Level, args []interface{}) {
	if imp.enabled(ctx, level) {
		imp.write(ctx, imp.newEntry(level, fmt.Sprint(args...)))
	}
}

func (imp *impl) logf(ctx context.Context, level Level, template string, args []interface{}) {
	if imp.enabled(ctx, level) {
		imp.write(ctx, imp.newEntry(level, fmt.Sprintf(template, args...)))
	}
}

// logw pairs up keysAndValues as zap fields. Keys that are not strings are formatted with `%v`;
// a trailing key without a value gets an error in its place.
func (imp *impl) logw(ctx context.Context, level Level, msg string, keysAndValues []interface{}) {
	if !imp.enabled(ctx, level) {
		return
	}
	entry := imp.newEntry(level, msg)
	entry.fields = make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		var key string
		if stringer, ok := keysAndValues[i].(fmt.Stringer); ok {
			key = stringer.String()
		} else {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		var value interface{} = errors.New("unpaired log key")
		if i+1 < len(keysAndValues) {
			value = keysAndValues[i+1]
		}
		entry.fields = append(entry.fields, zap.Any(key, value))
	}
	imp.write(ctx, entry)
}

var noCtx = context.Background()

func (imp *impl) Debug(args ...interface{}) {
	imp.logp(noCtx, DEBUG, args)
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.logf(noCtx, DEBUG, template, args)
}

func (imp *impl) Debugw(msg string, kvs ...interface{}) {
	imp.logw(noCtx, DEBUG, msg, kvs)
}

func (imp *impl) Info(args ...interface{}) {
	imp.logp(noCtx, INFO, args)
}

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.logf(noCtx, INFO, template, args)
}

func (imp *impl) Infow(msg string, kvs ...interface{}) {
	imp.logw(noCtx, INFO, msg, kvs)
}

func (imp *impl) Warn(args ...interface{}) {
	imp.logp(noCtx, WARN, args)
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.logf(noCtx, WARN, template, args)
}

func (imp *impl) Warnw(msg string, kvs ...interface{}) {
	imp.logw(noCtx, WARN, msg, kvs)
}

func (imp *impl) Error(args ...interface{}) {
	imp.logp(noCtx, ERROR, args)
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.logf(noCtx, ERROR, template, args)
}

func (imp *impl) Errorw(msg string, kvs ...interface{}) {
	imp.logw(noCtx, ERROR, msg, kvs)
}

func (imp *impl) CDebug(ctx context.Context, args ...interface{}) {
	imp.logp(ctx, DEBUG, args)
}

func (imp *impl) CDebugf(ctx context.Context, template string, args ...interface{}) {
	imp.logf(ctx, DEBUG, template, args)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, kvs ...interface{}) {
	imp.logw(ctx, DEBUG, msg, kvs)
}

// getCaller skips itself, newEntry, the log helper and the public logging method.
func getCaller() zapcore.EntryCaller {
	const skipToLogCaller = 4
	var entryCaller zapcore.EntryCaller
	var ok bool
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if fn := runtime.FuncForPC(entryCaller.PC); fn != nil {
		entryCaller.Function = fn.Name()
	}
	return entryCaller
}
