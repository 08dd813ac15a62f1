package log

import (
	"log/slog"
	"os"
)

// Logger is the project-wide structured logger: slog plus the component
// name the messages are attributed to. The component attr is bound once
// at construction, so the promoted slog methods carry it for free.
type Logger struct {
	*slog.Logger
	component string
}

// Config holds logger configuration.
type Config struct {
	Level     slog.Level
	Component string

	// Handler overrides the default text handler when set; Level is
	// ignored in that case because the handler brings its own.
	Handler slog.Handler
}

// DefaultConfig logs text to stdout at info level.
func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Component: ComponentApp,
	}
}

// New builds a logger from the config.
func New(cfg Config) *Logger {
	handler := cfg.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level})
	}

	base := slog.New(handler)
	if cfg.Component != "" {
		base = base.With(FieldComponent, cfg.Component)
	}
	return &Logger{Logger: base, component: cfg.Component}
}

// With returns a logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), component: l.component}
}

// WithComponent rebinds the component the messages are attributed to.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(FieldComponent, component), component: component}
}

// Component returns the logger's component name.
func (l *Logger) Component() string {
	return l.component
}

// SetDefault routes package-level slog calls through this logger.
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}
