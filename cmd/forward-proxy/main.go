package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	forwardproxy "github.com/always-cache/forward-proxy"
	"github.com/always-cache/forward-proxy/admin"
	"github.com/always-cache/forward-proxy/cache"
)

var (
	// CLI flags
	configFilenameFlag string
	providerFlag       string
	adminAddrFlag      string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&providerFlag, "provider", "", "Caching provider to use: memory or sqlite (overrides config, default memory)")
	flag.StringVar(&adminAddrFlag, "admin", "", "Address for the admin API, e.g. 127.0.0.1:9090 (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <port>\n", os.Args[0])
		flag.PrintDefaults()
	}

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	port := flag.Arg(0)
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid port: %s\n", port)
		flag.Usage()
		os.Exit(1)
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", version).Logger()

	var config forwardproxy.FileConfig
	if configFilenameFlag != "" {
		var err error
		if config, err = forwardproxy.LoadConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Msg("Could not load config")
		}
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}
	if adminAddrFlag != "" {
		config.Admin = adminAddrFlag
	}
	interval, err := config.Interval()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	// use configured provider, memory if none specified
	var provider cache.Provider
	switch config.Provider {
	case "", "memory":
		provider = cache.NewMemCache(config.CacheLimits())
	case "sqlite":
		if provider, err = cache.NewSQLiteCache("", config.CacheLimits()); err != nil {
			log.Fatal().Err(err).Msg("Could not create SQLite cache")
		}
	default:
		log.Fatal().Msgf("Unsupported cache provider: %s", config.Provider)
	}
	defer provider.Close()

	proxy := forwardproxy.CreateProxy(forwardproxy.Config{
		Cache:               provider,
		Logger:              &log.Logger,
		Rules:               config.Rules,
		MaxObjectSize:       config.Limits.MaxObjectSize,
		RenumberThreshold:   config.Limits.RenumberThreshold,
		MaintenanceInterval: interval,
	})

	if config.Admin != "" {
		go func() {
			log.Info().Msgf("Serving admin API on %s", config.Admin)
			err := http.ListenAndServe(config.Admin, admin.NewHandler(provider, log.Logger))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin API stopped")
			}
		}()
	}

	log.Info().Msgf("Proxying on port %s", port)
	if err := proxy.ListenAndServe(":" + port); err != nil {
		log.Fatal().Err(err).Msg("Proxy stopped")
	}
}
