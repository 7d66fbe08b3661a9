// ABOUTME: First-run setup commands: interactive init and non-interactive bootstrap
// ABOUTME: Bootstrap writes a config with a random secret and creates the first super principal

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/config"
	"github.com/2389/license-gateway/internal/gateway"
	"github.com/2389/license-gateway/internal/store"
)

// parseFlags reads "--name value" and "--name=value" pairs for the allowed names.
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}

	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		out[name] = value
	}
	return out, nil
}

// generateSecret returns a random base64 signing secret.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates a config file with a random JWT secret (if not exists)
// 2. Creates the database and a super principal with an API key
// 3. Optionally creates a first tenant owned by that principal
func runBootstrap(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "email", "password", "tenant")
	if err != nil {
		return err
	}
	email := strings.TrimSpace(flags["email"])
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("--email flag is required and must be an email address")
	}

	configPath := getConfigPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		seed := &config.Config{
			Server:   config.ServerConfig{HTTPAddr: "localhost:8080"},
			Database: config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dataPath, "gateway.db")},
			Auth:     config.AuthConfig{JWTSecret: secret, SuperEmail: email},
			Logging:  config.LoggingConfig{Level: "info", Format: "text"},
		}
		if err := writeConfig(configPath, "bootstrap", seed); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	s, err := gateway.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", storeLabel(cfg.Database))

	res, err := bootstrapStore(ctx, s, email, flags["password"], flags["tenant"])
	if err != nil {
		return err
	}
	green.Printf("  ✓ Created super principal: %s\n", email)
	if res.tenant != nil {
		green.Printf("  ✓ Created tenant: %s (id %d)\n", res.tenant.Name, res.tenant.ID)
	}

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Super Principal")
	cyan.Println("  ---------------")
	fmt.Printf("  ID:       %d\n", res.principal.ID)
	fmt.Printf("  Email:    %s\n", res.principal.Email)
	fmt.Printf("  Role:     %s\n", res.principal.Role)
	fmt.Printf("  API key:  %s\n", res.apiKey)
	fmt.Println()
	yellow.Println("  The API key is shown once. Store it now.")
	fmt.Println()
	fmt.Println("  Ready to go:")
	fmt.Println("    license-gateway serve")
	fmt.Printf("    curl -X POST localhost:8080/auth/login -d '{\"api_key\":\"%s\"}'\n", res.apiKey)
	fmt.Println()

	return nil
}

type bootstrapResult struct {
	principal *store.Principal
	tenant    *store.Tenant
	apiKey    string
}

// bootstrapStore creates the first principal. It refuses once any principal exists.
func bootstrapStore(ctx context.Context, s store.Store, email, password, tenantName string) (*bootstrapResult, error) {
	count, err := s.CountPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking principals: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("bootstrap already complete: %d principal(s) exist", count)
	}

	p := &store.Principal{
		Email:       email,
		DisplayName: email,
		Role:        store.PrincipalRoleSuper,
		Status:      store.PrincipalStatusActive,
	}
	if password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		p.PasswordHash = hash
	}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		return nil, fmt.Errorf("creating principal: %w", err)
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generating api key: %w", err)
	}
	if err := s.SetPrincipalAPIKeyHash(ctx, p.ID, auth.HashAPIKey(key)); err != nil {
		return nil, fmt.Errorf("storing api key: %w", err)
	}

	res := &bootstrapResult{principal: p, apiKey: key}
	if name := strings.TrimSpace(tenantName); name != "" {
		t, err := s.CreateTenant(ctx, name, p.ID)
		if err != nil {
			return nil, fmt.Errorf("creating tenant: %w", err)
		}
		res.tenant = t
	}
	return res, nil
}

// writeConfig stores cfg as YAML under a short generated-by header.
// The file holds the signing secret, so it is written 0600.
func writeConfig(path, command string, cfg *config.Config) error {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	header := fmt.Sprintf("# license-gateway configuration\n# Generated by license-gateway %s\n\n", command)
	if err := os.WriteFile(path, append([]byte(header), body...), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// questionnaire asks on out and reads answers from in. An empty answer or
// a read error keeps the default.
type questionnaire struct {
	in  *bufio.Reader
	out io.Writer
}

func (q *questionnaire) section(title string) {
	fmt.Fprintf(q.out, "\n--- %s ---\n", title)
}

func (q *questionnaire) ask(question, def string) string {
	if def == "" {
		fmt.Fprintf(q.out, "%s: ", question)
	} else {
		fmt.Fprintf(q.out, "%s [%s]: ", question, def)
	}
	line, err := q.in.ReadString('\n')
	if answer := strings.TrimSpace(line); answer != "" {
		return answer
	}
	if err != nil {
		fmt.Fprintln(q.out)
	}
	return def
}

func (q *questionnaire) confirm(question string) bool {
	switch strings.ToLower(q.ask(question, "no")) {
	case "y", "yes":
		return true
	}
	return false
}

// interview collects a config from the operator.
func (q *questionnaire) interview() (*config.Config, error) {
	var cfg config.Config

	q.section("Server")
	cfg.Server.HTTPAddr = q.ask("HTTP address", "localhost:8080")

	q.section("Database")
	cfg.Database.Driver = q.ask("Driver (sqlite/postgres)", "sqlite")
	if cfg.Database.Driver == "postgres" {
		cfg.Database.DSN = q.ask("Postgres DSN", "postgres://localhost:5432/licenses?sslmode=disable")
	} else {
		cfg.Database.Path = q.ask("SQLite database path", filepath.Join(getDataPath(), "gateway.db"))
	}

	q.section("Auth")
	cfg.Auth.SuperEmail = q.ask("Super principal email (optional)", "")
	cfg.Auth.AccessTTLRaw = q.ask("Access token TTL", config.DefaultAccessTTL.String())
	cfg.Auth.RefreshTTLRaw = q.ask("Refresh token TTL", config.DefaultRefreshTTL.String())
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWTSecret = secret
	cfg.Cookie = config.CookieConfig{Path: config.DefaultCookiePath, SameSite: "lax"}

	q.section("Refresh denylist")
	cfg.Redis.Addr = q.ask("Redis address (leave empty to disable)", "")

	q.section("Licenses")
	cfg.Licenses.SweepIntervalRaw = q.ask("Expiry sweep interval (0s disables)", config.DefaultSweepInterval.String())

	q.section("Logging")
	cfg.Logging.Level = q.ask("Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = q.ask("Log format (text/json)", "text")

	cfg.Metrics.Path = config.DefaultMetricsPath
	return &cfg, nil
}

func runInit() error {
	q := &questionnaire{in: bufio.NewReader(os.Stdin), out: os.Stdout}

	fmt.Println("license-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	target := q.ask("Config file path", getConfigPath())
	if _, err := os.Stat(target); err == nil && !q.confirm("File exists. Overwrite?") {
		fmt.Println("Aborted.")
		return nil
	}

	cfg, err := q.interview()
	if err != nil {
		return err
	}
	if err := writeConfig(target, "init", cfg); err != nil {
		return err
	}

	if cfg.Database.Path != "" {
		dir := filepath.Dir(cfg.Database.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		fmt.Printf("Data directory: %s\n", dir)
	}

	fmt.Printf("\nConfig written to %s\n", target)
	fmt.Println("Start the server with: license-gateway serve")
	return nil
}
