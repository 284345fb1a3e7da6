package obs

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// ConfigureLogger applies level and format ("json" or "text") to the shared logger.
func ConfigureLogger(level, format string) {
	l := Logger()
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

// LogRequest emits a structured log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	fields := make(logrus.Fields, len(entry))
	for k, v := range entry {
		if k == "msg" {
			continue
		}
		fields[k] = v
	}
	msg, _ := entry["msg"].(string)
	if msg == "" {
		msg = "request_complete"
	}
	e := Logger().WithFields(fields)
	status, _ := entry["status"].(int)
	switch {
	case status >= 500:
		e.Error(msg)
	case status >= 400:
		e.Warn(msg)
	default:
		e.Info(msg)
	}
}
