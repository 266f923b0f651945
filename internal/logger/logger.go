package logger

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// root logger
var log atomic.Pointer[Logger]

// ValidLogLevels is the set of level names accepted by NewLogger and SetLevel.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

const defaultLevel = "info"

// LoggingConfig is the view of the logging configuration needed to build
// component loggers.
type LoggingConfig interface {
	GetDefaultLevel() string
	GetComponentLevel(component string) string
	IsDevelopment() bool
}

// Logger wraps zap.SugaredLogger to provide a consistent logging interface across the project.
// Component loggers derived with WithComponent share the level of their parent.
type Logger struct {
	*zap.SugaredLogger

	atomicLevel zap.AtomicLevel
	component   string
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error"
// development mode enables stack traces and uses console encoder
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zapLogger.Sugar(), atomicLevel: config.Level}, nil
}

// NewComponentLogger creates a logger for component. It panics on an invalid
// level since it is only called with validated configuration.
func NewComponentLogger(component, level string, development bool) *Logger {
	l, err := NewLogger(level, development)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger for %s: %v", component, err))
	}

	return l.WithComponent(component)
}

// NewComponentLoggerFromConfig creates a component logger using the level
// configured for that component, falling back to the default level.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	if cfg == nil {
		return NewComponentLogger(component, defaultLevel, false)
	}

	level := cfg.GetComponentLevel(component)
	if level == "" {
		level = cfg.GetDefaultLevel()
	}
	if level == "" {
		level = defaultLevel
	}

	return NewComponentLogger(component, level, cfg.IsDevelopment())
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		atomicLevel:   zap.NewAtomicLevelAt(zapcore.FatalLevel),
	}
}

// WithComponent creates a child logger with a component name field. A logger
// already tagged with component is returned as is.
func (l *Logger) WithComponent(component string) *Logger {
	if l.component == component {
		return l
	}

	return &Logger{
		SugaredLogger: l.With("component", component),
		atomicLevel:   l.atomicLevel,
		component:     component,
	}
}

// GetComponent returns the component name, empty for a root logger.
func (l *Logger) GetComponent() string {
	return l.component
}

// GetLevel returns the current level name.
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// SetLevel changes the level of this logger and every logger sharing it.
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return err
	}

	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}

func parseLevel(level string) (zapcore.Level, error) {
	if _, ok := ValidLogLevels[level]; !ok {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", level)
	}

	return zapcore.ParseLevel(level)
}

// SetDefaultLogger replaces the process-wide logger returned by GetDefaultLogger.
func SetDefaultLogger(l *Logger) {
	log.Store(l)
}

func GetDefaultLogger() *Logger {
	l := log.Load()
	if l != nil {
		return l
	}
	// default level: debug
	zapLogger, err := NewLogger("debug", true)
	if err != nil {
		panic(err)
	}
	log.CompareAndSwap(nil, zapLogger)
	return log.Load()
}
