package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/officefloor/officefloor/internal/api"
	"github.com/officefloor/officefloor/internal/auth"
	"github.com/officefloor/officefloor/internal/config"
	"github.com/officefloor/officefloor/internal/events"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/issues"
	"github.com/officefloor/officefloor/internal/journal"
	"github.com/officefloor/officefloor/internal/lock"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/metrics"
	"github.com/officefloor/officefloor/internal/officefloor"
	"github.com/officefloor/officefloor/internal/sources/builtin"
	"github.com/officefloor/officefloor/internal/storage"
	"github.com/officefloor/officefloor/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultConfigPath = "officefloor.yaml"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "status":
		return runStatus(args)
	case "check", "doctor":
		return runCheck(args)
	case "invoke":
		return runInvoke(args)
	case "inspect":
		return runInspect(args)
	case "config":
		return runConfigNoun(args)
	case "types":
		return runTypes(args)
	case "token":
		return runToken(args)
	case "monitor":
		return runMonitor(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `officefloor - YAML-configured office execution kernel

Usage:
  officefloor <command> [flags]

Commands:
  start             Open the office floor and serve until interrupted
  status            Show whether an office floor holds the lock
  check             Compile the configuration and report every issue
  invoke            Run one process locally and print its outcome
  inspect           Show a journalled process and its escalations
  config get        Read a configuration value or entity
  types             List the registered source types and escalation kinds
  token             Pick scopes and print a new API token entry
  monitor           Real-time process monitor TUI for a running floor
  version           Show version information
  help              Show this help message

Most commands accept --config (default officefloor.yaml, or $OFFICEFLOOR_CONFIG).
`)
}

func configFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("OFFICEFLOOR_CONFIG")
	if def == "" {
		def = defaultConfigPath
	}
	return fs.String("config", def, "Path to configuration file or directory")
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: officefloor version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("officefloor %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = t
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// printIssues writes every compile issue on its own line.
func printIssues(w io.Writer, err error) {
	var ie *issues.Error
	if !errors.As(err, &ie) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Configuration has %d issue(s):\n", len(ie.Issues))
	for _, i := range ie.Issues {
		fmt.Fprintf(w, "  %s\n", i)
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("officefloor starting", "version", version, "config", *configPath)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := builtin.NewRegistry()
	if err != nil {
		logger.Error("failed to register sources", "error", err)
		return 1
	}

	hub := events.NewHub(256)
	collector := metrics.NewCollector(cfg.Metrics.Namespace)
	opts := officefloor.Options{
		Registry:  registry,
		Observers: []execute.Observer{collector, events.NewObserver(hub)},
	}

	var processes api.ProcessStore
	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		j := journal.New(db)
		opts.Journal = j
		opts.Observers = append(opts.Observers, j.Observer())
		processes = j
		logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	var hookCfg *webhook.Config
	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		hc, err := webhook.FromConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("invalid webhooks config", "error", err)
			return 1
		}
		hookCfg = &hc
	}

	floor, err := officefloor.Open(ctx, cfg, opts)
	if err != nil {
		printIssues(os.Stderr, err)
		logger.Error("failed to open office floor", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen:            cfg.API.Listen,
			Tokens:            tokens,
			MaxConcurrentSync: cfg.API.MaxConcurrentSync,
			MaxInvokeTimeout:  cfg.API.MaxInvokeTimeout,
			RequestsPerSecond: cfg.API.RateLimit.RequestsPerSecond,
			Burst:             cfg.API.RateLimit.Burst,
		}, floor, processes, hub, collector.Handler(), log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}
	if hookCfg != nil {
		hooks := webhook.New(*hookCfg, floor, log.WithComponent("webhook"), webhook.WithRecorder(collector))
		go func() {
			if err := hooks.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhooks: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", cfg.Webhooks.Listen, "endpoints", len(cfg.Webhooks.Endpoints))
	}

	logger.Info("officefloor running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Service.DrainTimeout+5*time.Second)
	defer closeCancel()
	if err := floor.Close(closeCtx); err != nil {
		logger.Error("office floor closed with errors", "error", err)
		code = 1
	}

	logger.Info("officefloor stopped")
	return code
}
