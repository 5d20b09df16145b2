/*
Package config resolves the terminal client's settings.

Each setting comes from its flag, then its environment variable, then a default:

	-server         NAMER_SERVER_URL     (default http://localhost:5000)
	-name           NAMER_USER
	-identity-file  NAMER_IDENTITY_FILE  (default <user config dir>/namer/identity.json)
	-strategy       NAMER_STRATEGY       (refetch or incremental, default refetch)
	-metrics-addr   NAMER_METRICS_ADDR   (empty disables the metrics listener)
	-log-level      NAMER_LOG_LEVEL      (debug, info, warn, error; default warn)

LoadDotenv may be called first so a .env file can supply the variables.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"go-namer/internal/identity"
	"go-namer/internal/suggestion"
)

const DefaultServerURL = "http://localhost:5000"

type Config struct {
	ServerURL    string
	UserName     string
	IdentityFile string
	Strategy     suggestion.Strategy
	MetricsAddr  string
	LogLevel     slog.Level
}

func ParseFlags(args []string) (Config, error) {
	var (
		cfg      Config
		strategy string
		level    string
	)

	fs := flag.NewFlagSet("namer", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", "", "Board server base URL")
	fs.StringVar(&cfg.UserName, "name", "", "Display name (overrides the saved identity)")
	fs.StringVar(&cfg.IdentityFile, "identity-file", "", "Where the display name is remembered")
	fs.StringVar(&strategy, "strategy", "", "Board reconciliation: refetch or incremental")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&level, "log-level", "", "Log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.ServerURL == "" {
		cfg.ServerURL = envOr("NAMER_SERVER_URL", DefaultServerURL)
	}
	if u, err := url.Parse(cfg.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("invalid server URL %q (want http:// or https://)", cfg.ServerURL)
	}

	if cfg.UserName == "" {
		cfg.UserName = os.Getenv("NAMER_USER")
	}

	if cfg.IdentityFile == "" {
		cfg.IdentityFile = os.Getenv("NAMER_IDENTITY_FILE")
	}
	if cfg.IdentityFile == "" {
		p, err := identity.DefaultPath()
		if err != nil {
			return Config{}, errors.New("no identity file location (use -identity-file or NAMER_IDENTITY_FILE env)")
		}
		cfg.IdentityFile = p
	}
	cfg.IdentityFile = filepath.Clean(cfg.IdentityFile)

	if strategy == "" {
		strategy = os.Getenv("NAMER_STRATEGY")
	}
	s, err := suggestion.ParseStrategy(strategy)
	if err != nil {
		return Config{}, err
	}
	cfg.Strategy = s

	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = os.Getenv("NAMER_METRICS_ADDR")
	}

	if level == "" {
		level = envOr("NAMER_LOG_LEVEL", "warn")
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q", level)
	}

	return cfg, nil
}

// LoadDotenv loads the first .env found in the working directory or its parents
// (two levels up). Variables already set in the environment are kept. It returns
// the file it loaded, or "" when there was none.
func LoadDotenv() (string, error) {
	for _, p := range []string{".env", filepath.Join("..", ".env"), filepath.Join("..", "..", ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return p, fmt.Errorf("load %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
