// errtrackd - error tracking daemon
//
// errtrackd groups application errors by fingerprint, raises threshold
// alerts, persists history to SQLite, and serves metrics over HTTP.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/armorclaw/errtrack/pkg/config"
	"github.com/armorclaw/errtrack/pkg/logger"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

type cliConfig struct {
	command      string
	configPath   string
	configOutput string
	dbPath       string
	addr         string
	logLevel     string
	verbose      bool
	version      bool
	help         bool

	// report flags
	server    string
	timeRange string
	limit     int
}

func parseFlags(args []string) (cliConfig, error) {
	cfg := cliConfig{}

	fs := flag.NewFlagSet("errtrackd", flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&cfg.configOutput, "config-output", "", "Output path for 'init' command")
	fs.StringVar(&cfg.dbPath, "db", "", "Path to SQLite database (overrides config)")
	fs.StringVar(&cfg.addr, "addr", "", "HTTP listen address (overrides config)")
	fs.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.verbose, "v", false, "Verbose logging (sets log level to debug)")
	fs.BoolVar(&cfg.version, "version", false, "Print version and exit")
	fs.BoolVar(&cfg.help, "help", false, "Show help message")
	fs.StringVar(&cfg.server, "server", "", "Base URL of a running errtrackd (report command)")
	fs.StringVar(&cfg.timeRange, "range", "1h", "Time range: 1h, 6h, 24h, 7d, 30d (report command)")
	fs.IntVar(&cfg.limit, "limit", 20, "Maximum stored groups to list (report command)")

	// Allow the command to come before or after flags
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cfg.command = args[0]
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.command == "" && fs.NArg() > 0 {
		cfg.command = fs.Arg(0)
	}

	if cfg.verbose {
		cfg.logLevel = "debug"
	}
	return cfg, nil
}

func main() {
	cliCfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if cliCfg.version || cliCfg.command == "version" {
		printVersion()
		return
	}
	if cliCfg.help || cliCfg.command == "help" {
		printHelp()
		return
	}

	switch cliCfg.command {
	case "init":
		err = runInitCommand(cliCfg)
	case "validate":
		err = runValidateCommand(cliCfg)
	case "report":
		err = runReportCommand(cliCfg)
	case "serve", "":
		err = runServeCommand(cliCfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cliCfg.command)
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration file and applies command-line overrides
func loadConfig(cli cliConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return nil, err
	}

	changed := false
	if cli.dbPath != "" {
		cfg.Store.DBPath = cli.dbPath
		changed = true
	}
	if cli.addr != "" {
		cfg.Server.Addr = cli.addr
		changed = true
	}
	if cli.logLevel != "" {
		cfg.Logging.Level = cli.logLevel
		changed = true
	}
	if changed {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(cfg.ToLoggerConfig())
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(l)
	return l, nil
}

func runInitCommand(cli cliConfig) error {
	path := cli.configOutput
	if path == "" {
		path = config.ConfigPaths()[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := config.GenerateExampleConfig(path); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Edit the [notifications] section before enabling webhook delivery.")
	return nil
}

func runValidateCommand(cli cliConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	fmt.Println("Configuration is valid")
	fmt.Printf("  store:     enabled=%v path=%s\n", cfg.Store.Enabled, cfg.Store.DBPath)
	fmt.Printf("  server:    enabled=%v addr=%s\n", cfg.Server.Enabled, cfg.Server.Addr)
	fmt.Printf("  cleanup:   %s (store %s)\n", cfg.Cleanup.Schedule, cfg.Cleanup.StoreSchedule)
	fmt.Printf("  webhook:   enabled=%v\n", cfg.Notifications.Enabled && cfg.Notifications.WebhookURL != "")
	return nil
}

func printVersion() {
	fmt.Printf("errtrackd v%s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
}

func printHelp() {
	fmt.Print(`USAGE:
    errtrackd [command] [flags]

COMMANDS:
    serve       Run the tracker daemon (default)
    report      Print metrics from a running daemon or the local database
    init        Write an example configuration file
    validate    Validate configuration
    version     Show version information
    help        Show this help message

FLAGS:
    -config string         Path to configuration file
    -config-output string  Output path for 'init'
    -db string             SQLite database path (overrides config)
    -addr string           HTTP listen address (overrides config)
    -log-level string      debug, info, warn, error
    -v                     Verbose logging
    -server string         Daemon base URL for 'report' (e.g. http://127.0.0.1:8089)
    -range string          Metrics window for 'report': 1h, 6h, 24h, 7d, 30d
    -limit int             Stored groups listed by 'report'

EXAMPLES:
    errtrackd init
    errtrackd serve -config ~/.errtrack/config.toml
    errtrackd report -server http://127.0.0.1:8089 -range 24h
    errtrackd report -db ~/.errtrack/errtrack.db
`)
}
