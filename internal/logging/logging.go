package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger and returns it tagged with the service name.
func Setup(level, service string) log.FieldLogger {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	return log.WithField("service", service)
}
