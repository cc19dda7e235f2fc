package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// SetupLogging configures the global zerolog logger and returns the logrus
// logger handed to core packages. Both write to the same sink; the returned
// closer releases it.
func SetupLogging(cfg LoggingConfig) (*logrus.Logger, io.Closer, error) {
	sink, err := logSink(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(sink)
	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	var zw io.Writer = sink
	if strings.EqualFold(cfg.Format, "text") {
		zw = zerolog.ConsoleWriter{Out: sink, NoColor: cfg.Output == "file"}
	}
	log.Logger = zerolog.New(zw).With().Timestamp().Logger()

	if err := SetLogLevel(logger, cfg.Level); err != nil {
		_ = sink.Close()
		return nil, nil, err
	}
	return logger, sink, nil
}

func logSink(cfg LoggingConfig) (io.WriteCloser, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("logging.file is required when logging.output is file")
		}
		return &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
}

// SetLogLevel applies level to logger and to the global zerolog level
func SetLogLevel(logger *logrus.Logger, level string) error {
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zlevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if logger != nil {
		logger.SetLevel(parsed)
	}
	zerolog.SetGlobalLevel(zlevel)
	return nil
}
