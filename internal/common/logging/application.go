package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

// promrus registers a single counter vector, so the hook is only added once per process.
var promHookRegistered = false

// ConfigureApplicationLogging sets up the global logrus logger for a long-running process: level, format,
// optional rotated file output and a prometheus hook counting log lines by level.
func ConfigureApplicationLogging(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	level, err := log.ParseLevel(config.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetFormatter(createFormatter(config.Format))

	var writers []io.Writer
	writers = append(writers, os.Stdout)
	if config.File.Enabled {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.File.LogFile,
			MaxSize:    config.File.MaxSizeMb,
			MaxBackups: config.File.MaxBackups,
			MaxAge:     config.File.MaxAgeDays,
			Compress:   config.File.Compress,
		})
	}
	log.SetOutput(io.MultiWriter(writers...))

	if !promHookRegistered {
		hook, err := promrus.NewPrometheusHook()
		if err != nil {
			return err
		}
		log.AddHook(hook)
		promHookRegistered = true
	}
	return nil
}

// ConfigureCommandLineLogging sets up logging for one-shot cli commands, which print bare messages.
func ConfigureCommandLineLogging() {
	log.SetFormatter(new(CommandLineFormatter))
	log.SetOutput(os.Stdout)
}

func createFormatter(format string) log.Formatter {
	if strings.ToLower(format) == FormatJson {
		return &log.JSONFormatter{TimestampFormat: RFC3339Milli}
	}
	return &log.TextFormatter{FullTimestamp: true, TimestampFormat: RFC3339Milli}
}
