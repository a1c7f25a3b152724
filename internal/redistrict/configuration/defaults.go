package configuration

import (
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultClusterThreshold   = 500
	DefaultPollTimeout        = 10 * time.Second
	DefaultGeographyCacheSize = 128
	DefaultPersistRetries     = 3
)

// RectifyConfig replaces invalid optional values with defaults, logging a warning for each.
func RectifyConfig(config *RedistrictConfiguration) {
	logger := log.WithField("Redistrict", "RectifyConfig")

	warn := func(field string, configured interface{}, def interface{}) {
		logger.WithFields(log.Fields{
			"default":    def,
			"configured": configured,
		}).Warnf("config.%s invalid, using default instead", field)
	}

	if config.ClusterThreshold <= 0 {
		warn("ClusterThreshold", config.ClusterThreshold, DefaultClusterThreshold)
		config.ClusterThreshold = DefaultClusterThreshold
	}
	if config.PollTimeout <= 0 {
		warn("PollTimeout", config.PollTimeout, DefaultPollTimeout)
		config.PollTimeout = DefaultPollTimeout
	}
	if config.CancelTimeout <= 0 {
		warn("CancelTimeout", config.CancelTimeout, config.PollTimeout)
		config.CancelTimeout = config.PollTimeout
	}
	if config.CancelGracePeriod <= 0 {
		def := 10 * config.ReconcileInterval
		warn("CancelGracePeriod", config.CancelGracePeriod, def)
		config.CancelGracePeriod = def
	}
	if config.PersistRetries == 0 {
		warn("PersistRetries", config.PersistRetries, DefaultPersistRetries)
		config.PersistRetries = DefaultPersistRetries
	}
	if config.GeographyCacheSize <= 0 {
		warn("GeographyCacheSize", config.GeographyCacheSize, DefaultGeographyCacheSize)
		config.GeographyCacheSize = DefaultGeographyCacheSize
	}
	if config.Database.HealthCheckTimeout <= 0 {
		warn("Database.HealthCheckTimeout", config.Database.HealthCheckTimeout, config.PollTimeout)
		config.Database.HealthCheckTimeout = config.PollTimeout
	}
}
