package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rakanbakir/samsungctl/internal/buildinfo"
	"github.com/rakanbakir/samsungctl/internal/config"
	"github.com/rakanbakir/samsungctl/internal/conflict"
	"github.com/rakanbakir/samsungctl/internal/diagnostics"
	"github.com/rakanbakir/samsungctl/internal/discovery"
	"github.com/rakanbakir/samsungctl/internal/lifecycle"
	"github.com/rakanbakir/samsungctl/internal/remote"
)

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Environment diagnostics.EnvironmentReport `json:"environment"`
	ConfigPath  string                        `json:"config_path"`
}

func main() {
	selfTest := flag.Bool("self-test", false, "run environment diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	discover := flag.Bool("discover", false, "scan for Samsung TVs and print candidates")
	subnetsFlag := flag.String("subnets", "", "comma-separated CIDR subnets to scan (defaults to configured or local /24)")
	hostFlag := flag.String("host", "", "TV host, overrides the configured one")
	checkConflict := flag.String("check-conflict", "", "check whether an IP is already claimed, then exit")
	configPath := flag.String("config", "", "settings file path (default ~/.config/samsungctl.conf)")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	logLevel := parseLogLevel(os.Getenv("SAMSUNGCTL_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			fatal(err)
		}
	}
	cfg, err := config.Open(path)
	if err != nil {
		fatal(err)
	}

	if *selfTest {
		out := selfTestOutput{
			Environment: diagnostics.DetectEnvironment(),
			ConfigPath:  path,
		}
		out.Server.Name = "samsungctl"
		out.Server.Version = buildinfo.Version

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			fatal(err)
		}
		return
	}

	logger.Info("samsungctl_start",
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
	)

	switch {
	case *checkConflict != "":
		checker := conflict.NewChecker(logger)
		conflicted := checker.Check(runCtx, *checkConflict)
		fmt.Printf("%s conflict=%t\n", *checkConflict, conflicted)
		if conflicted {
			os.Exit(1)
		}

	case *discover:
		if err := runDiscovery(runCtx, logger, cfg, *subnetsFlag); err != nil {
			fatal(err)
		}

	default:
		if err := runSend(runCtx, logger, cfg, *hostFlag, flag.Args()); err != nil {
			fatal(err)
		}
	}
}

func runDiscovery(ctx context.Context, logger *slog.Logger, cfg *config.File, subnetsFlag string) error {
	subnets := splitSubnets(subnetsFlag)
	if len(subnets) == 0 {
		subnets = cfg.Settings().DiscoverySubnets
	}
	if len(subnets) == 0 {
		local, err := config.LocalSubnet()
		if err != nil {
			return err
		}
		subnets = []string{local}
	}

	identifier := discovery.NewIdentifier(logger)
	engine := discovery.NewEngine(logger,
		discovery.NewMulticastProbe(logger),
		discovery.NewPortScanProbe(logger, identifier),
	)

	candidates, err := engine.Discover(ctx, subnets, func(stage string, fraction float64) {
		logger.Debug("discovery_progress",
			slog.String("stage", stage),
			slog.Float64("fraction", fraction),
		)
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(candidates)
}

func runSend(ctx context.Context, logger *slog.Logger, cfg *config.File, hostOverride string, keys []string) error {
	if len(keys) == 0 {
		return errors.New("no keys given; pass key identifiers such as KEY_POWER as arguments")
	}

	endpoint, err := cfg.Endpoint()
	if err != nil {
		return err
	}
	if hostOverride != "" {
		endpoint.Host = hostOverride
	}
	if endpoint.Host == "" {
		return errors.New("no TV host configured; use -host or run -discover first")
	}

	settings := cfg.Settings()
	manager := remote.NewManager(settings.Name,
		remote.WithLogger(logger),
		remote.WithTokenStore(cfg),
		remote.WithTimeout(time.Duration(settings.Timeout)*time.Second),
	)
	defer manager.Close()

	if err := manager.Connect(ctx, endpoint, cfg.Credential(endpoint.Host)); err != nil {
		return fmt.Errorf("connect to %s: %w", endpoint, err)
	}

	for _, key := range keys {
		result, err := manager.Send(ctx, key)
		if err != nil {
			return fmt.Errorf("send %s: %w", key, err)
		}
		logger.Info("command_sent",
			slog.String("key", result.Key),
			slog.String("outcome", string(result.Outcome)),
		)
	}
	return nil
}

func splitSubnets(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid SAMSUNGCTL_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
