package logx

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLevel      = "info"
	defaultFormat     = "text"
	defaultOutput     = "stderr"
	defaultFilePath   = "./logs/mlworkspace.log"
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 7
	defaultMaxAgeDays = 7
	defaultCompress   = true
	defaultAddSource  = false
)

const (
	envLogLevel    = "LOG_LEVEL"
	envLogFormat   = "LOG_FORMAT"
	envLogOutput   = "LOG_OUTPUT"
	envLogFilePath = "LOG_FILE_PATH"
)

type Config struct {
	Level       slog.Level
	Format      string
	Output      string
	FilePath    string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
	AddSource   bool
	ServiceName string
}

// Overrides come from command line flags and win over the environment.
type Overrides struct {
	Verbose bool
	LogFile string
}

// LoadConfig reads LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT and LOG_FILE_PATH.
// Rotation limits are fixed.
func LoadConfig(serviceName string) Config {
	cfg := Config{
		Level:       parseLevel(getenv(envLogLevel, defaultLevel)),
		Format:      normalizeFormat(getenv(envLogFormat, defaultFormat)),
		Output:      normalizeOutput(getenv(envLogOutput, defaultOutput)),
		FilePath:    getenv(envLogFilePath, defaultFilePath),
		MaxSizeMB:   defaultMaxSizeMB,
		MaxBackups:  defaultMaxBackups,
		MaxAgeDays:  defaultMaxAgeDays,
		Compress:    defaultCompress,
		AddSource:   defaultAddSource,
		ServiceName: serviceName,
	}
	return cfg
}

func (c Config) apply(o Overrides) Config {
	if o.Verbose {
		c.Level = slog.LevelDebug
	}
	if strings.TrimSpace(o.LogFile) != "" {
		c.FilePath = strings.TrimSpace(o.LogFile)
		if !strings.Contains(c.Output, "file") {
			c.Output += ",file"
		}
	}
	return c
}

// Init installs the default logger. Logs never go to stdout, which carries
// rendered templates.
func Init(serviceName string, o Overrides) (*slog.Logger, func() error, error) {
	cfg := LoadConfig(serviceName).apply(o)
	writer, closer, err := buildWriter(cfg)
	if err != nil {
		return nil, nil, err
	}
	handler := buildHandler(cfg, writer)
	logger := slog.New(handler).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	return logger, closer, nil
}

func buildHandler(cfg Config, writer io.Writer) slog.Handler {
	options := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(writer, options)
	}
	return slog.NewTextHandler(writer, options)
}

// buildWriter returns stderr, the rotated log file, or both. Anything that
// names neither falls back to stderr.
func buildWriter(cfg Config) (io.Writer, func() error, error) {
	toFile := strings.Contains(cfg.Output, "file")
	toStderr := strings.Contains(cfg.Output, "stderr") || !toFile
	if !toFile {
		return os.Stderr, func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	if !toStderr {
		return rotator, rotator.Close, nil
	}
	return io.MultiWriter(os.Stderr, rotator), rotator.Close, nil
}

func normalizeFormat(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "json":
		return "json"
	default:
		return "text"
	}
}

func normalizeOutput(v string) string {
	out := strings.ToLower(strings.TrimSpace(v))
	switch out {
	case "stderr", "file", "stderr,file":
		return out
	default:
		return defaultOutput
	}
}

func parseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
