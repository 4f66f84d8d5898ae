package appcore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is zerolog's level; only error, warn, info and debug are used.
type LogLevel = zerolog.Level

const (
	LogLevelError = zerolog.ErrorLevel
	LogLevelWarn  = zerolog.WarnLevel
	LogLevelInfo  = zerolog.InfoLevel
	LogLevelDebug = zerolog.DebugLevel
)

const EventSchemaVersion = "v1"

// Logger is the process-wide logging facade. The zero value discards
// everything.
type Logger struct {
	enabled bool
	level   LogLevel
	sink    LogSink
}

type LogSink interface {
	Write(entry LogEntry) error
}

// LogEntry is one formatted message. Messages shaped like
// "event=<name> key=value ..." also carry the parsed event and fields.
type LogEntry struct {
	Timestamp     time.Time
	Level         LogLevel
	Message       string
	SchemaVersion string
	Event         string
	Fields        map[string]any
}

type LoggerSinkConfig struct {
	Sink     string
	FilePath string
}

type consoleSink struct {
	logger zerolog.Logger
}

type jsonFileSink struct {
	logger zerolog.Logger
	file   *os.File
}

func parseLogLevel(level string) (LogLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "":
		return LogLevelInfo, nil
	case "warning":
		return LogLevelWarn, nil
	case "error", "warn", "info", "debug":
		return zerolog.ParseLevel(normalized)
	default:
		return LogLevelInfo, fmt.Errorf("invalid log level %q (use: error, warn, info, debug)", level)
	}
}

func NewLogger(enabled bool, level string, sinkConfig LoggerSinkConfig) (Logger, error) {
	parsedLevel, err := parseLogLevel(level)
	if err != nil {
		return Logger{}, err
	}
	sink, err := NewLogSink(sinkConfig)
	if err != nil {
		return Logger{}, err
	}
	return Logger{enabled: enabled, level: parsedLevel, sink: sink}, nil
}

func NewLogSink(config LoggerSinkConfig) (LogSink, error) {
	switch sink := strings.ToLower(strings.TrimSpace(config.Sink)); sink {
	case "", "stderr":
		return newConsoleSink(os.Stderr), nil
	case "stdout":
		return newConsoleSink(os.Stdout), nil
	case "json-file":
		return openJSONFileSink(config.FilePath)
	default:
		return nil, fmt.Errorf("invalid log sink %q (use: stderr, stdout, json-file)", config.Sink)
	}
}

func newConsoleSink(writer io.Writer) consoleSink {
	output := zerolog.ConsoleWriter{
		Out:        writer,
		NoColor:    true,
		TimeFormat: time.RFC3339,
		FormatLevel: func(value interface{}) string {
			return "[" + strings.ToUpper(fmt.Sprint(value)) + "]"
		},
	}
	return consoleSink{logger: zerolog.New(output)}
}

func openJSONFileSink(filePath string) (*jsonFileSink, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return nil, fmt.Errorf("log sink json-file requires a file path")
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed creating log directory %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed opening log file %q: %w", filePath, err)
	}
	return &jsonFileSink{logger: zerolog.New(zerolog.SyncWriter(file)), file: file}, nil
}

func (logger Logger) Errorf(format string, args ...interface{}) {
	logger.write(LogLevelError, format, args...)
}

func (logger Logger) Warnf(format string, args ...interface{}) {
	logger.write(LogLevelWarn, format, args...)
}

func (logger Logger) Infof(format string, args ...interface{}) {
	logger.write(LogLevelInfo, format, args...)
}

func (logger Logger) Debugf(format string, args ...interface{}) {
	logger.write(LogLevelDebug, format, args...)
}

// Close releases the file behind a json-file sink.
func (logger Logger) Close() error {
	if sink, ok := logger.sink.(*jsonFileSink); ok {
		return sink.file.Close()
	}
	return nil
}

func (logger Logger) write(level LogLevel, format string, args ...interface{}) {
	if !logger.enabled || level < logger.level {
		return
	}

	entry := LogEntry{
		Timestamp:     time.Now(),
		Level:         level,
		Message:       fmt.Sprintf(format, args...),
		SchemaVersion: EventSchemaVersion,
	}
	entry.Event, entry.Fields = splitEvent(entry.Message)

	sink := logger.sink
	if sink == nil {
		sink = newConsoleSink(os.Stderr)
	}
	if err := sink.Write(entry); err != nil {
		fmt.Fprintf(os.Stderr, "%s [WARN] failed to write log entry: %v\n", time.Now().Format(time.RFC3339), err)
	}
}

func (sink consoleSink) Write(entry LogEntry) error {
	sink.logger.WithLevel(entry.Level).
		Time(zerolog.TimestampFieldName, entry.Timestamp).
		Msg(entry.Message)
	return nil
}

func (sink *jsonFileSink) Write(entry LogEntry) error {
	record := sink.logger.WithLevel(entry.Level).
		Str("schema_version", entry.SchemaVersion).
		Str("timestamp", entry.Timestamp.Format(time.RFC3339Nano))
	if entry.Event != "" {
		record = record.Str("event", entry.Event).Interface("fields", entry.Fields)
	}
	record.Msg(entry.Message)
	return nil
}

// splitEvent returns the event name and typed fields of an
// "event=<name> key=value ..." message, or an empty name otherwise.
func splitEvent(message string) (string, map[string]any) {
	tokens := strings.Fields(message)
	if len(tokens) == 0 {
		return "", nil
	}
	name, ok := strings.CutPrefix(tokens[0], "event=")
	if !ok || name == "" {
		return "", nil
	}

	fields := make(map[string]any, len(tokens)-1)
	for _, token := range tokens[1:] {
		key, value, found := strings.Cut(token, "=")
		if !found || key == "" {
			continue
		}
		fields[key] = fieldValue(value)
	}
	return name, fields
}

func fieldValue(raw string) any {
	if number, err := strconv.Atoi(raw); err == nil {
		return number
	}
	if number, err := strconv.ParseFloat(raw, 64); err == nil && strings.Contains(raw, ".") {
		return number
	}
	if flag, err := strconv.ParseBool(raw); err == nil {
		return flag
	}
	return raw
}
