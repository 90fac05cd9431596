package log

import (
	"context"
	"fmt"
	"os"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/correlation"
)

const (
	// LogTimestampFormat defines the timestamp format in log files
	LogTimestampFormat = "2006-01-02T15:04:05.000Z"
)

var (
	defaultLogger = logrus.StandardLogger()
	accessLogger  = logrus.New()

	// Loggers is convenient when you want to apply configuration to all
	// loggers
	Loggers = []*logrus.Logger{defaultLogger, accessLogger}
)

func init() {
	// Log statements issued before the configuration has been loaded go to
	// stdout instead of stderr.
	for _, l := range Loggers {
		l.Out = os.Stdout
	}
}

// Configure sets the format and level on all loggers. An unknown level
// falls back to info, an unknown format is an error.
func Configure(loggers []*logrus.Logger, format string, level string) error {
	var formatter logrus.Formatter
	switch format {
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: LogTimestampFormat}
	case "text":
		formatter = &logrus.TextFormatter{TimestampFormat: LogTimestampFormat}
	case "":
		// Just stick with the default
	default:
		return fmt.Errorf("invalid logger format %q", format)
	}

	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logrusLevel = logrus.InfoLevel
	}

	for _, l := range loggers {
		l.SetLevel(logrusLevel)

		if formatter != nil {
			l.Formatter = formatter
		}
	}

	return nil
}

// Default is the default logrus logger
func Default() *logrus.Entry { return defaultLogger.WithField("pid", os.Getpid()) }

// Access is the logger used for HTTP access logs.
func Access() *logrus.Logger { return accessLogger }

// ToContext stores a request scoped entry, tagged with the correlation ID
// of the context if there is one.
func ToContext(ctx context.Context, entry *logrus.Entry) context.Context {
	if id := correlation.ExtractFromContext(ctx); id != "" {
		entry = entry.WithField("correlation_id", id)
	}
	return ctxlogrus.ToContext(ctx, entry)
}

// FromContext returns the request scoped entry. Contexts without one yield
// an entry which discards its output.
func FromContext(ctx context.Context) *logrus.Entry {
	return ctxlogrus.Extract(ctx)
}
