package config

import (
	"io"
	"log"
	"os"
)

// LogFlags holds the timestamp flags of the process loggers. It starts out
// as UTC and is updated once the configured log_timezone is known.
var LogFlags = timestampFlags("UTC")

func timestampFlags(timezone string) int {
	switch timezone {
	case "none":
		return 0
	case "local":
		return log.Ldate | log.Ltime
	default:
		return log.Ldate | log.Ltime | log.LUTC
	}
}

// newLoggers returns the access and error loggers. Access lines go to
// stdout unless accessLevel is "none".
func newLoggers(timezone, accessLevel string, stdout, stderr io.Writer) (access *log.Logger, errs *log.Logger) {
	flags := timestampFlags(timezone)
	if accessLevel == "none" {
		stdout = io.Discard
	}
	return log.New(stdout, "", flags), log.New(stderr, "", flags)
}

func (c *Config) setLogger() error {
	LogFlags = timestampFlags(c.LogTimezone)
	log.SetFlags(LogFlags)

	c.AccessLogger, c.ErrorLogger = newLoggers(c.LogTimezone, c.AccessLogLevel, os.Stdout, os.Stderr)
	return nil
}
