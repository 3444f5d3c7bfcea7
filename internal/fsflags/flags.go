// Package fsflags configures the ambient logging/version flags shared by
// every fgraph daemon command, the Go analogue of GPAC's common option
// parsing (SPEC_FULL "Configuration").
package fsflags

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// Version is overwritten at build time via -ldflags.
var Version = "dev"

// ConfigureAndParse adds the flags common to every fgraph daemon to cmd and
// parses args, so it must run after any command-specific flags have been
// registered on cmd.
func ConfigureAndParse(cmd *flag.FlagSet, args []string) {
	logLevel := cmd.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	logFormat := cmd.String("log-format", "text", "log output format, one of: text, json")
	printVersion := cmd.Bool("version", false, "print version and exit")

	cmd.Parse(args)

	setLogLevel(*logLevel)
	setLogFormat(*logFormat)
	maybePrintVersionAndExit(*printVersion)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func setLogFormat(format string) {
	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(Version)
		os.Exit(0)
	}
	log.Infof("running version %s", Version)
}
