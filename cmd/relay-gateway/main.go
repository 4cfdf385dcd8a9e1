// ABOUTME: Entry point for the relay-gateway chat server
// ABOUTME: Subcommands to serve, write a config, check health, and manage users and tokens

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/gateway"
	"github.com/2389/relay-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _
 _ __ ___| | __ _ _   _        __ _  __ _| |_ _____      ____ _ _   _
| '__/ _ \ |/ _' | | | |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | |  __/ | (_| | |_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|  \___|_|\__,_|\__, |      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                  |___/       |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/relay/gateway.yaml > ~/.config/relay/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relay", "gateway.yaml")
}

// getDataPath returns the path to the relay data directory.
// Priority: XDG_DATA_HOME/relay > ~/.local/share/relay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "relay")
}

func usage() {
	fmt.Println("Usage: relay-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the gateway server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  health                             Check gateway liveness")
	fmt.Println("  ready                              Check store and cache readiness")
	fmt.Println("  user add --name NAME --email EMAIL [--pic URL]  Register a user")
	fmt.Println("  user list                          List registered users")
	fmt.Println("  user lock|unlock ID                Lock or unlock an account")
	fmt.Println("  token --user ID [--ttl DURATION]   Issue an access token")
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
		err = runInit(os.Stdin)
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "user":
		err = runUser(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
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
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", describeDatabase(cfg.Database))
	green.Print("    ▶ ")
	fmt.Printf("Cache:     %s\n", cfg.Cache.Driver)
	if !cfg.Realtime.RequireToken {
		green.Print("    ▶ ")
		fmt.Print("Sockets:   ")
		yellow.Println("userId query trusted (require_token is off)")
	}

	fmt.Println()

	logger.Info("starting relay-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
		"cache", cfg.Cache.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func describeDatabase(db config.DatabaseConfig) string {
	switch db.Driver {
	case config.DriverMongo:
		return fmt.Sprintf("mongo (%s)", db.MongoDatabase)
	case config.DriverSQLite:
		return fmt.Sprintf("sqlite (%s)", db.Path)
	default:
		return db.Driver
	}
}

// runProbe requests a health endpoint of the configured server and prints the body.
func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// openStore loads the config and opens its store. The in-memory driver is
// rejected since nothing written here would outlive the command.
func openStore(ctx context.Context) (*config.Config, store.Store, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Driver == config.DriverMemory {
		return nil, nil, errors.New("the memory database driver cannot be managed from the command line")
	}

	s, err := gateway.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func runUser(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("user requires a subcommand: add, list, lock, unlock")
	}

	_, s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "add":
		return userAdd(ctx, s, os.Stdout, args[1:])
	case "list":
		return userList(ctx, s, os.Stdout)
	case "lock", "unlock":
		if len(args) != 2 {
			return fmt.Errorf("user %s requires exactly one user ID", args[0])
		}
		return userSetLocked(ctx, s, os.Stdout, args[1], args[0] == "lock")
	default:
		return fmt.Errorf("unknown user subcommand: %s", args[0])
	}
}

func userAdd(ctx context.Context, users store.UserStore, out io.Writer, args []string) error {
	flags, err := parseFlags(args, "name", "email", "id", "pic")
	if err != nil {
		return err
	}

	name := strings.TrimSpace(flags["name"])
	email := strings.TrimSpace(strings.ToLower(flags["email"]))
	if name == "" {
		return errors.New("--name flag is required")
	}
	if len(name) > 100 {
		return errors.New("name exceeds maximum length of 100 characters")
	}
	if email == "" || !strings.Contains(email, "@") {
		return errors.New("--email must be a valid address")
	}

	id := flags["id"]
	if id == "" {
		id = uuid.New().String()
	}

	user := &store.User{
		ID:         id,
		FullName:   name,
		Email:      email,
		ProfilePic: flags["pic"],
	}
	if err := users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return fmt.Errorf("a user with email %s already exists", email)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Created user %s\n", user.FullName)
	fmt.Fprintf(out, "  ID:    %s\n", user.ID)
	fmt.Fprintf(out, "  Email: %s\n", user.Email)
	return nil
}

func userList(ctx context.Context, users store.UserStore, out io.Writer) error {
	list, err := users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No users registered.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tSTATUS\tCREATED")
	for _, u := range list {
		status := "active"
		if u.Locked {
			status = "locked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.FullName, u.Email, status, u.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func userSetLocked(ctx context.Context, users store.UserStore, out io.Writer, id string, locked bool) error {
	if err := users.SetLocked(ctx, id, locked); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %s not found", id)
		}
		return fmt.Errorf("updating user: %w", err)
	}

	state := "Unlocked"
	if locked {
		state = "Locked"
	}
	color.New(color.FgGreen).Fprintf(out, "  ✓ %s %s\n", state, id)
	return nil
}

// runToken issues an access token for an existing, unlocked user.
func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "user", "ttl")
	if err != nil {
		return err
	}
	userID := flags["user"]
	if userID == "" {
		return errors.New("--user flag is required")
	}

	cfg, s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	ttl := cfg.Auth.TokenTTL
	if raw := flags["ttl"]; raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		if ttl <= 0 {
			return errors.New("--ttl must be positive")
		}
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %s not found", userID)
		}
		return fmt.Errorf("loading user: %w", err)
	}
	if user.Locked {
		return fmt.Errorf("user %s is locked", userID)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.ID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	// Token alone on stdout so it can be captured by scripts
	fmt.Println(token)
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "expires %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return nil
}

// parseFlags reads "--name value" and "--name=value" pairs for the allowed
// names. Positional arguments are rejected.
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}

	values := make(map[string]string, len(allowed))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, ok := strings.CutPrefix(arg, "--")
		if !ok {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		if key, value, found := strings.Cut(name, "="); found {
			if !known[key] {
				return nil, fmt.Errorf("unknown flag: --%s", key)
			}
			values[key] = value
			continue
		}

		if !known[name] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("--%s requires a value", name)
		}
		values[name] = args[i+1]
		i++
	}
	return values, nil
}

// generateSecret returns a random base64 JWT secret comfortably above the
// minimum length.
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("relay-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	answers := initAnswers{DataDir: defaultDataPath}

	fmt.Println("\n--- Server Configuration ---")
	answers.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	answers.DBDriver = prompt(reader, "Database driver (sqlite/mongo)", config.DriverSQLite)
	switch answers.DBDriver {
	case config.DriverMongo:
		answers.MongoURI = prompt(reader, "MongoDB URI", "mongodb://localhost:27017")
		answers.MongoDatabase = prompt(reader, "MongoDB database", "relay")
	case config.DriverSQLite:
		answers.DBPath = prompt(reader, "SQLite database path", filepath.Join(defaultDataPath, "relay.db"))
	default:
		return fmt.Errorf("unknown database driver: %s", answers.DBDriver)
	}

	fmt.Println("\n--- Cache Configuration ---")
	answers.CacheDriver = prompt(reader, "Cache driver (memory/redis)", config.CacheMemory)
	switch answers.CacheDriver {
	case config.CacheRedis:
		answers.RedisURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	case config.CacheMemory:
	default:
		return fmt.Errorf("unknown cache driver: %s", answers.CacheDriver)
	}

	fmt.Println("\n--- Realtime Configuration ---")
	answers.RequireToken = yes(prompt(reader, "Require a token on socket connect?", "yes"))

	fmt.Println("\n--- Logging Configuration ---")
	answers.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	answers.LogFormat = prompt(reader, "Log format (text/json)", "text")

	secret, err := generateSecret()
	if err != nil {
		return err
	}
	answers.JWTSecret = secret

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the JWT secret
	if err := os.WriteFile(outputFile, []byte(renderConfig(answers)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(answers.DataDir, "uploads"), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", answers.DataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  relay-gateway user add --name \"Your Name\" --email you@example.com")
	fmt.Println("  relay-gateway serve")

	return nil
}

// initAnswers collects the choices made during init.
type initAnswers struct {
	HTTPAddr      string
	DBDriver      string
	DBPath        string
	MongoURI      string
	MongoDatabase string
	CacheDriver   string
	RedisURL      string
	RequireToken  bool
	JWTSecret     string
	LogLevel      string
	LogFormat     string
	DataDir       string
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# relay-gateway configuration\n")
	cfg.WriteString("# Generated by relay-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", a.HTTPAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", a.DBDriver)
	if a.DBDriver == config.DriverMongo {
		fmt.Fprintf(&cfg, "  mongo_uri: %q\n", a.MongoURI)
		fmt.Fprintf(&cfg, "  mongo_database: %q\n", a.MongoDatabase)
	} else {
		fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	}
	cfg.WriteString("\n")

	cfg.WriteString("cache:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", a.CacheDriver)
	if a.CacheDriver == config.CacheRedis {
		fmt.Fprintf(&cfg, "  redis_url: %q\n", a.RedisURL)
	}
	cfg.WriteString("  user_list_ttl: \"300s\"\n")
	cfg.WriteString("  conversation_ttl: \"120s\"\n\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", a.JWTSecret)
	cfg.WriteString("  token_ttl: \"8h\"\n\n")

	cfg.WriteString("realtime:\n")
	fmt.Fprintf(&cfg, "  require_token: %t\n", a.RequireToken)
	cfg.WriteString("  ping_interval: \"30s\"\n\n")

	cfg.WriteString("messages:\n")
	cfg.WriteString("  delete_window: \"1h\"\n\n")

	cfg.WriteString("uploads:\n")
	fmt.Fprintf(&cfg, "  dir: %q\n", filepath.Join(a.DataDir, "uploads"))
	cfg.WriteString("  base_url: \"/uploads\"\n\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)

	return cfg.String()
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
