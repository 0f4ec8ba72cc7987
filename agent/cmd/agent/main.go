// Command agent runs the Cachet status page agent.
//
// # Usage
//
//	agent --endpoint https://status.example.com/api/v1 --api-token TOKEN
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (CACHET_*, AGENT_*)
// - Settings file (--settings)
//
// Flags win over environment variables, which win over the settings file.
//
// Probe definitions are read from AGENT_CONFIGURATION when it is set, and
// from --config-file (default agent.conf) otherwise. An explicit
// --config-file flag wins over AGENT_CONFIGURATION.
//
// # Examples
//
// Run with flags:
//
//	agent --endpoint https://status.example.com/api/v1 \
//	      --api-token op://ops/cachet/credential \
//	      --check-interval 30 -v
//
// Run with environment variables:
//
//	CACHET_ENDPOINT=https://status.example.com/api/v1 \
//	CACHET_API_TOKEN=file:///run/secrets/cachet \
//	AGENT_CONFIGURATION="Infra,API,SpringBoot,http://api:8080/actuator/health" \
//	agent
//
// Check probe definitions without contacting the status page:
//
//	agent --validate --config-file /etc/cachet-agent/agent.conf
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"

	"github.com/pilot-net/cachet-agent/agent"
	"github.com/pilot-net/cachet-agent/agent/internal/config"
	"github.com/pilot-net/cachet-agent/agent/internal/logging"
	"github.com/pilot-net/cachet-agent/pkg/types"
)

func main() {
	// Parse flags
	var (
		endpoint      = flag.String("endpoint", "", "Cachet API endpoint (or use "+config.EnvEndpoint+")")
		apiToken      = flag.String("api-token", "", "Cachet API token, file:// or op:// reference (or use "+config.EnvAPIToken+")")
		checkInterval = flag.String("check-interval", "", "Check interval in seconds (default 60)")
		configFile    = flag.String("config-file", "", "Probes config file (default agent.conf, or use multiline "+config.EnvConfiguration+")")
		settings      = flag.String("settings", os.Getenv(config.EnvSettings), "Settings YAML file")
		logFile       = flag.String("log-file", "", "Write logs to a rotated file instead of stderr")
		listen        = flag.String("listen", "", "Status server address, e.g. :9100 (disabled by default)")
		concurrency   = flag.Int("concurrency", 0, "Components checked in parallel (default 1)")
		v             = flag.Bool("v", false, "Show logs")
		vv            = flag.Bool("vv", false, "Show more logs")
		vvv           = flag.Bool("vvv", false, "Be chatty")
		validate      = flag.Bool("validate", false, "Check probe definitions and exit")
		once          = flag.Bool("once", false, "Run a single cycle and exit")
		version       = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	// Print version
	if *version {
		fmt.Printf("cachet-agent %s\n", agent.Version)
		os.Exit(0)
	}

	// Load configuration
	cfg := config.DefaultConfig()

	if *settings != "" {
		fileCfg, err := config.LoadFromFile(*settings)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	// Apply flag overrides; only flags given on the command line count.
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoint":
			cfg.Cachet.Endpoint = *endpoint
		case "api-token":
			cfg.Cachet.Token = *apiToken
		case "check-interval":
			d, err := config.ParseInterval(*checkInterval)
			if err != nil {
				flagErr = fmt.Errorf("--check-interval: %w", err)
				return
			}
			cfg.Probing.CheckInterval = d
		case "config-file":
			cfg.Probing.ConfigFile = *configFile
			cfg.Probing.Definitions = ""
		case "log-file":
			cfg.Logging.File = *logFile
		case "listen":
			cfg.Server.ListenAddr = *listen
		case "concurrency":
			cfg.Probing.Concurrency = *concurrency
		}
	})
	if flagErr != nil {
		exitWithUsage(flagErr.Error())
	}
	if level := logging.LevelFromVerbosity(*v, *vv, *vvv); level != "" {
		cfg.Logging.Level = level
	}

	// Set up logging
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if *validate {
		os.Exit(runValidate(cfg))
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingEndpoint) || errors.Is(err, config.ErrMissingToken) {
			exitWithUsage(err.Error() + "!")
		}
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create agent
	a, err := agent.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create agent", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	defer a.Close()

	if *once {
		_, err = a.RunOnce(ctx)
	} else {
		err = a.Run(ctx)
	}
	if err != nil {
		reportFatal(logger, err)
		a.Close()
		logCloser.Close()
		os.Exit(1)
	}

	logger.Info("agent shutdown complete")
}

// runValidate prints every problem in the probe definitions and returns the
// exit code.
func runValidate(cfg *config.Config) int {
	specs, err := agent.CheckProbes(cfg, nil)
	if err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintln(os.Stderr, e)
		}
		return 1
	}
	fmt.Printf("%d probe definitions OK\n", len(specs))
	return 0
}

// reportFatal prints a startup failure with a message matching its kind.
func reportFatal(logger *slog.Logger, err error) {
	var (
		cfgErr *types.ConfigError
		resErr *types.ResolutionError
	)
	switch {
	case errors.As(err, &cfgErr):
		logger.Error("invalid probe configuration", "error", err)
	case errors.As(err, &resErr):
		logger.Error("could not resolve status page components", "error", err)
	case errors.Is(err, agent.ErrNoProbes):
		logger.Error("nothing to do", "error", err)
	default:
		logger.Error("agent exited with error", "error", err)
	}
}

func exitWithUsage(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	fmt.Fprintln(os.Stderr)
	flag.Usage()
	os.Exit(1)
}
