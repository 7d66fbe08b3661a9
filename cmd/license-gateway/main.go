// ABOUTME: Entry point for the license-gateway server and its admin subcommands
// ABOUTME: Resolves entitlements for downstream products and issues sessions

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/license-gateway/internal/config"
	"github.com/2389/license-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ _                                                     _
| (_) ___ ___ _ __  ___  ___        __ _  __ _| |_ _____      ____ _ _   _
| | |/ __/ _ \ '_ \/ __|/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | (_|  __/ | | \__ \  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|_|\___\___|_| |_|___/\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                   |___/                             |___/
`

// xdgDir returns $env/license-gateway, or ~/<home...>/license-gateway when
// env is unset. An empty string means no home directory could be found.
func xdgDir(env string, home ...string) string {
	base := os.Getenv(env)
	if base == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(append([]string{dir}, home...)...)
	}
	return filepath.Join(base, "license-gateway")
}

// getConfigPath honors LICENSE_GATEWAY_CONFIG before the XDG config dir.
func getConfigPath() string {
	if p := os.Getenv("LICENSE_GATEWAY_CONFIG"); p != "" {
		return p
	}
	if dir := xdgDir("XDG_CONFIG_HOME", ".config"); dir != "" {
		return filepath.Join(dir, "gateway.yaml")
	}
	return "gateway.yaml"
}

func getDataPath() string {
	if dir := xdgDir("XDG_DATA_HOME", ".local", "share"); dir != "" {
		return dir
	}
	return "data"
}

// loadConfig loads the config file, falling back to the environment alone
// when the default file does not exist.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && os.Getenv("LICENSE_GATEWAY_CONFIG") == "" {
		cfg, err := config.Load("")
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, "(environment)", nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func usage() {
	fmt.Println("Usage: license-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                             Start the gateway server")
	fmt.Println("  init                              Create a new config file interactively")
	fmt.Println("  bootstrap --email EMAIL           Create the first super principal")
	fmt.Println("            [--password PW] [--tenant NAME]")
	fmt.Println("  sweep                             Expire lapsed licenses once and exit")
	fmt.Println("  licenses --tenant ID              List a tenant's licenses")
	fmt.Println("  health                            Check gateway health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "sweep":
		err = runSweep(ctx)
	case "licenses":
		err = runLicenses(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stdout)

	denylist, sweeper := "", ""
	if cfg.Redis.Addr != "" {
		denylist = "redis " + cfg.Redis.Addr
	}
	if cfg.Licenses.SweepInterval > 0 {
		sweeper = "every " + cfg.Licenses.SweepInterval.String()
	}

	printSetting("Config", configPath, "")
	printSetting("HTTP", cfg.Server.HTTPAddr, "")
	printSetting("Store", storeLabel(cfg.Database), "")
	printSetting("Denylist", denylist, "disabled (refresh tokens are stateless)")
	printSetting("Sweeper", sweeper, "disabled")
	if cfg.Metrics.Enabled {
		printSetting("Metrics", cfg.Metrics.Path, "")
	}
	fmt.Println()

	logger.Info("starting license-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// printSetting prints one startup line; an empty value shows off in yellow.
func printSetting(label, value, off string) {
	color.New(color.FgGreen).Print("    ▶ ")
	fmt.Printf("%-10s ", label+":")
	if value == "" {
		color.New(color.FgYellow).Println(off)
		return
	}
	fmt.Println(value)
}

func storeLabel(cfg config.DatabaseConfig) string {
	if cfg.Driver == "postgres" {
		return "postgres"
	}
	return "sqlite " + cfg.Path
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println("healthy")
	return nil
}
