package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/joho/godotenv"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/reddit-cli/tui"
)

var (
	cfg         ClientConfig
	storedCreds Credentials

	flagConfigFile *string
	flagClientID   *string
	flagPort       *int
	flagCallback   *string

	configInitialized bool
	retryClient       *retry.Client
)

// defaultPort is the local callback port used when none is configured.
const defaultPort = 65010

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagConfigFile = flag.String(
		"config",
		"",
		"Config file path (default: ~/.config/reddit-cli/config.json or REDDIT_CLI_CONFIG env)",
	)
	flagClientID = flag.String(
		"client-id",
		"",
		"OAuth client ID (default: built-in installed-app id or REDDIT_CLIENT_ID env)",
	)
	flagPort = flag.Int(
		"port",
		0,
		"Local port for the OAuth callback (default: 65010 or REDDIT_OAUTH_PORT env)",
	)
	flagCallback = flag.String(
		"callback",
		"",
		"OAuth callback URL (default: http://localhost:<port> or REDDIT_OAUTH_CALLBACK env)",
	)
}

// initConfig parses flags and resolves the client configuration. Precedence
// per field: flag > environment variable > persisted config value > built-in
// default. Separated from init() to avoid conflicts with test flag parsing.
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	configFile := getConfig(*flagConfigFile, "REDDIT_CLI_CONFIG", defaultConfigPath())

	// Persisted values sit between env vars and built-in defaults. A missing
	// or corrupt file just yields empty values here.
	creds, stored := loadConfigFile(configFile)

	clientID := getConfig(
		*flagClientID,
		"REDDIT_CLIENT_ID",
		firstNonEmpty(stored.ClientID, defaultClientID),
	)

	portStr := ""
	if *flagPort != 0 {
		portStr = strconv.Itoa(*flagPort)
	}
	portStr = getConfig(
		portStr,
		"REDDIT_OAUTH_PORT",
		firstNonEmpty(stored.Port, strconv.Itoa(defaultPort)),
	)
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		port = defaultPort
	}

	// The callback default derives from the port, so it resolves last.
	callback := getConfig(
		*flagCallback,
		"REDDIT_OAUTH_CALLBACK",
		firstNonEmpty(stored.OAuthCallback, fmt.Sprintf("http://localhost:%d", port)),
	)

	cfg = ClientConfig{
		ClientID:      clientID,
		Port:          port,
		OAuthCallback: callback,
		ConfigFile:    configFile,
	}
	storedCreds = creds

	// Initialize HTTP client with retry support
	baseHTTPClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
		},
	}

	retryClient, err = retry.NewBackgroundClient(
		retry.WithHTTPClient(baseHTTPClient),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create retry client: %v", err))
	}
}

// getConfig returns value with priority: flag > env > fallback
func getConfig(flagValue, envKey, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, fallback)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// defaultConfigPath returns ~/.config/reddit-cli/config.json, falling back
// to a relative path when the home directory cannot be determined.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reddit-cli.json"
	}
	return filepath.Join(home, ".config", "reddit-cli", "config.json")
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <path> [<path>...]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "Requests each API path in order and pretty-prints the JSON response to stdout.")
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	initConfig()

	paths := flag.Args()
	if len(paths) == 0 {
		usage()
		os.Exit(1)
	}

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(d, paths)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(d, paths); err != nil {
			os.Exit(1)
		}
	}
}

// run requests each path sequentially and prints the pretty JSON response
// to stdout. The first failure aborts the whole run: there is no
// partial-success mode beyond the paths already printed.
func run(d tui.Displayer, paths []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if storedCreds.AccessToken != "" || storedCreds.RefreshToken != "" {
		d.CredentialsFound()
	}

	client := newClient(cfg, storedCreds, retryClient, d)

	for _, path := range paths {
		d.Requesting(http.MethodGet, path)

		body, err := client.Get(ctx, path, nil)
		if err != nil {
			d.Fatal(err)
			return err
		}

		out, err := prettyJSON(body)
		if err != nil {
			d.Fatal(err)
			return err
		}
		fmt.Println(out)
		d.RequestOK(path)
	}

	d.Done(len(paths))
	return nil
}

// prettyJSON re-indents a raw JSON payload for terminal output.
func prettyJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("response is not valid JSON: %w", err)
	}
	return buf.String(), nil
}
