// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/ccdagraph/api/schemas"
	"github.com/xkilldash9x/ccdagraph/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// globalLogger holds the process-wide logger; it is swapped atomically so
	// conversions running on several goroutines always see a complete value.
	globalLogger atomic.Pointer[zap.Logger]
	// once guards the first Initialize call.
	once sync.Once
)

// timeLayout is shared by the console and JSON encoders.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// ANSI escape sequences used to colorize console levels.
const (
	colorBlack   = "\x1b[30m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorReset   = "\x1b[0m"
)

// colorMap resolves the color names accepted in logger.colors.
var colorMap = map[string]string{
	"black":   colorBlack,
	"red":     colorRed,
	"green":   colorGreen,
	"yellow":  colorYellow,
	"blue":    colorBlue,
	"magenta": colorMagenta,
	"cyan":    colorCyan,
	"white":   colorWhite,
}

// -- Initialization --

// Initialize builds the global logger. Console output goes to consoleWriter in
// the configured format; when cfg.LogFile is set, a second core appends JSON
// lines to a rotating file. Only the first call has any effect until
// ResetForTest.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		level := parseLevel(cfg.Level)

		cores := []zapcore.Core{zapcore.NewCore(getEncoder(cfg), consoleWriter, level)}
		if cfg.LogFile != "" {
			cores = append(cores, newFileCore(cfg, level))
		}

		options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			options = append(options, zap.AddCaller())
		}

		logger := zap.New(zapcore.NewTee(cores...), options...).Named(cfg.ServiceName)
		globalLogger.Store(logger)

		// Libraries logging through zap.L() or the standard log package end up
		// in the same sinks.
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is the production entry point. Console output goes to a
// locked Stderr; Stdout is reserved for graphs exported as JSON.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// ResetForTest clears the global logger and re-arms Initialize.
// Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

// parseLevel falls back to info for an empty or unknown level name.
func parseLevel(name string) zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(name)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// newFileCore writes JSON regardless of the console format, since the file
// is meant for log shippers rather than people.
func newFileCore(cfg config.LoggerConfig, level zap.AtomicLevel) zapcore.Core {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	})
	return zapcore.NewCore(getEncoder(config.LoggerConfig{Format: "json"}), writer, level)
}

// -- Document context --

// DocumentFields returns the provenance of a conversion session as log
// fields, so every line logged for a document can be traced back to it.
func DocumentFields(p schemas.Provenance) []zap.Field {
	return []zap.Field{
		zap.Int("doc_id", p.DocID),
		zap.String("doc_source_id", p.DocSourceID),
		zap.Int("etl_src_sys_id", p.EtlSrcSysID),
	}
}

// -- Encoders --

// newColorizedLevelEncoder renders the upper-case level name wrapped in the
// configured color. Levels without a color are written plain.
func newColorizedLevelEncoder(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  colorMap[colors.Debug],
		zapcore.InfoLevel:   colorMap[colors.Info],
		zapcore.WarnLevel:   colorMap[colors.Warn],
		zapcore.ErrorLevel:  colorMap[colors.Error],
		zapcore.DPanicLevel: colorMap[colors.DPanic],
		zapcore.PanicLevel:  colorMap[colors.Panic],
		zapcore.FatalLevel:  colorMap[colors.Fatal],
	}
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := strings.ToUpper(level.String())
		color, known := byLevel[level]
		if !known {
			color = colorReset
		}
		if color == "" {
			enc.AppendString(name)
			return
		}
		enc.AppendString(fmt.Sprintf("%s%s%s", color, name, colorReset))
	}
}

// getEncoder returns the single-line, colorized console encoder for
// "console" and a JSON encoder for every other format.
func getEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	// --- Base Configuration ---
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)

	// --- Console Format ---
	if cfg.Format == "console" {
		encoderConfig.EncodeLevel = newColorizedLevelEncoder(cfg.Colors)
		// Component names get a trailing dot so they stand apart from the
		// message, e.g. "ccdagraph.Mapper.".
		encoderConfig.EncodeName = func(loggerName string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(loggerName + ".")
		}
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	// --- JSON Format (Default) ---
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder // "INFO", "WARN", ...
	return zapcore.NewJSONEncoder(encoderConfig)
}

// -- Access --

// GetLogger returns the global logger. Before Initialize it hands out a
// development logger named "fallback" so early callers still get output.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// ignorableSyncErrors are returned when syncing a terminal or pipe on some
// platforms. They carry no information about lost log lines.
var ignorableSyncErrors = []string{
	"sync /dev/stdout",
	"sync /dev/stderr",
	"invalid argument",
	"operation not supported",
}

// Sync flushes buffered entries. Call it before the process exits.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	err := logger.Sync()
	if err == nil {
		return
	}
	msg := err.Error()
	for _, ignorable := range ignorableSyncErrors {
		if strings.Contains(msg, ignorable) {
			return
		}
	}
	fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
}
