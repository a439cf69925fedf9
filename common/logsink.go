package common

import (
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultLogBufferSize = 100

	contextKey = "context"
	detailsKey = "details"
)

// LogEntry is one record captured by a LogSink.
type LogEntry struct {
	Message   string
	Level     zapcore.Level
	Logger    string
	Context   map[string]interface{}
	Details   interface{}
	Error     error
	Fields    map[string]interface{}
	Timestamp time.Time
}

// TimestampISO formats the entry time as RFC 3339 in UTC.
func (e LogEntry) TimestampISO() string {
	return e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Notifier surfaces warnings and errors to the user, e.g. as a toast.
type Notifier interface {
	Notify(level zapcore.Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level zapcore.Level, message string)

func (f NotifierFunc) Notify(level zapcore.Level, message string) { f(level, message) }

// LogSink keeps the most recent log entries in a fixed-size ring.
// Once full, each new entry drops the oldest one.
type LogSink struct {
	mu       sync.Mutex
	buf      []LogEntry
	start    int
	size     int
	notifier Notifier
}

func NewLogSink(capacity int, notifier Notifier) *LogSink {
	if capacity <= 0 {
		capacity = DefaultLogBufferSize
	}
	return &LogSink{
		buf:      make([]LogEntry, capacity),
		notifier: notifier,
	}
}

// Core returns a zapcore.Core that writes into the sink. Tee it with the
// regular output core to capture everything an application logs.
func (s *LogSink) Core() zapcore.Core {
	return &sinkCore{LevelEnabler: zapcore.DebugLevel, sink: s}
}

// Entries returns a copy of the buffered entries, oldest first.
func (s *LogSink) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]LogEntry, s.size)
	for i := range out {
		e := s.buf[(s.start+i)%len(s.buf)]
		e.Context = cloneMap(e.Context)
		e.Fields = cloneMap(e.Fields)
		e.Details = cloneValue(e.Details)
		out[i] = e
	}
	return out
}

func (s *LogSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.buf)
	s.start = 0
	s.size = 0
}

func (s *LogSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *LogSink) Capacity() int {
	return len(s.buf)
}

func (s *LogSink) append(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < len(s.buf) {
		s.buf[(s.start+s.size)%len(s.buf)] = e
		s.size++
		return
	}
	s.buf[s.start] = e
	s.start = (s.start + 1) % len(s.buf)
}

type sinkCore struct {
	zapcore.LevelEnabler
	sink   *LogSink
	fields []zapcore.Field
}

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &sinkCore{LevelEnabler: c.LevelEnabler, sink: c.sink, fields: merged}
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	entry := LogEntry{
		Message:   ent.Message,
		Level:     ent.Level,
		Logger:    ent.LoggerName,
		Timestamp: ent.Time,
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range append(c.fields[:len(c.fields):len(c.fields)], fields...) {
		if f.Type == zapcore.ErrorType && entry.Error == nil {
			if err, ok := f.Interface.(error); ok {
				entry.Error = err
				continue
			}
		}
		f.AddTo(enc)
	}
	// reflected values are stored by reference; copy them so the caller's
	// later changes do not reach the buffer
	if ctx, ok := enc.Fields[contextKey].(map[string]interface{}); ok {
		entry.Context = cloneMap(ctx)
		delete(enc.Fields, contextKey)
	}
	if details, ok := enc.Fields[detailsKey]; ok {
		entry.Details = cloneValue(details)
		delete(enc.Fields, detailsKey)
	}
	if len(enc.Fields) > 0 {
		entry.Fields = cloneMap(enc.Fields)
	}

	c.sink.append(entry)
	if ent.Level >= zapcore.WarnLevel && c.sink.notifier != nil {
		c.sink.notifier.Notify(ent.Level, ent.Message)
	}
	return nil
}

func (c *sinkCore) Sync() error { return nil }

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the map and slice shapes that log fields carry.
// Other values are returned as is.
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		if t == nil {
			return t
		}
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return slices.Clone(t)
	case []byte:
		return slices.Clone(t)
	default:
		return v
	}
}

// RequestContext is the structured context attached to pipeline log entries.
func RequestContext(endpoint, method string) zap.Field {
	return zap.Dict(contextKey,
		zap.String("endpoint", endpoint),
		zap.String("method", method),
	)
}

// Details attaches free-form details to a log entry.
func Details(v interface{}) zap.Field {
	return zap.Any(detailsKey, v)
}
