package logging

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

var validLogFormats = map[string]bool{
	FormatText: true,
	FormatJson: true,
}

// Config defines logging configuration.
type Config struct {
	// Log level, e.g. info, error etc
	Level string
	// Logging format, either text or json
	Format string
	// Defines configuration for file logging
	File struct {
		// Whether file logging is enabled.
		Enabled bool
		// The Location of the logfile on disk
		LogFile string
		// Maximum size in megabytes of the log file before it gets rotated
		MaxSizeMb int
		// Maximum number of old log files to retain
		MaxBackups int
		// Maximum number of days to retain old log files
		MaxAgeDays int
		// Whether to compress rotated log files
		Compress bool
	}
}

// DefaultConfig logs text at info level to stdout only.
func DefaultConfig() Config {
	return Config{Level: "info", Format: FormatText}
}

func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.Level); err != nil {
		return errors.WithStack(err)
	}
	if err := validateLogFormat(c.Format); err != nil {
		return err
	}
	if c.File.Enabled {
		if c.File.LogFile == "" {
			return errors.New("file.logFile must be set when file logging is enabled")
		}
		if c.File.MaxSizeMb <= 0 {
			return errors.New("file.maxSizeMb must be greater than zero")
		}
		if c.File.MaxBackups <= 0 {
			return errors.New("file.maxBackups must be greater than zero")
		}
		if c.File.MaxAgeDays <= 0 {
			return errors.New("file.maxAgeDays must be greater than zero")
		}
	}
	return nil
}

func validateLogFormat(f string) error {
	_, ok := validLogFormats[strings.ToLower(f)]
	if !ok {
		formats := maps.Keys(validLogFormats)
		slices.Sort(formats)
		return errors.Errorf("unknown log format: %s.  Valid formats are %s", f, formats)
	}
	return nil
}
