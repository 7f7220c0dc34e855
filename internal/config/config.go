package config

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/peterbourgon/ff/v3"

	"gihan9a/docproof/internal/annotate"
	"gihan9a/docproof/internal/engine"
)

// EnvPrefix is the prefix of environment variables that mirror flags, e.g. DOCPROOF_P
const EnvPrefix = "DOCPROOF"

// TLSConfig holds TLS configuration options
type TLSConfig struct {
	Enabled      bool
	CertFile     string
	KeyFile      string
	GenerateCert bool
	Hosts        []string // Hosts the generated certificate is valid for
}

// CORSConfig holds CORS configuration options
type CORSConfig struct {
	Enabled          bool
	AllowOrigins     string
	AllowMethods     string
	AllowHeaders     string
	AllowCredentials bool
	MaxAge           int
}

// CompareConfig holds comparison options
type CompareConfig struct {
	Delay         time.Duration // Delay before a triggered comparison runs
	CacheTTL      time.Duration // CacheTTL of zero disables the result cache
	CacheCapacity uint64
	DiffTimeout   time.Duration // DiffTimeout of zero means the diff is exact and deterministic
	LineMode      bool
}

// Config holds the application configuration
type Config struct {
	RootDir        string
	Port           int
	MaxUploadBytes int64
	ProxyURL       *url.URL
	InsecureProxy  bool
	TLS            TLSConfig
	CORS           CORSConfig
	Compare        CompareConfig
	Layout         annotate.Layout
}

// EngineOptions returns the diff engine options for c
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{Timeout: c.Compare.DiffTimeout, LineMode: c.Compare.LineMode}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload size %d", c.MaxUploadBytes)
	}
	if c.Compare.Delay < 0 || c.Compare.CacheTTL < 0 || c.Compare.DiffTimeout < 0 {
		return fmt.Errorf("compare durations must not be negative")
	}
	return nil
}

// ParseFlags parses flags and environment variables and merges them with the config file
func ParseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("docproof", flag.ContinueOnError)

	// Define flags
	configFlag := fs.String("config", "config.yml", "Path to configuration file")
	generateConfigFlag := fs.Bool("generate-config", false, "Generate a default configuration file")
	configFilePathFlag := fs.String("config-path", "config.yml", "Path where config file should be generated")

	// Simple flags for overriding config file
	dirFlag := fs.String("d", "", "Directory containing documents to compare (overrides config)")
	portFlag := fs.Int("p", 0, "Port to listen on (overrides config)")
	proxyFlag := fs.String("proxy", "", "Frontend URL to forward unknown paths to (overrides config)")

	// Parse flags, then DOCPROOF_* variables for flags not set on the command line
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvPrefix)); err != nil {
		return nil, err
	}

	// Handle config file generation
	if *generateConfigFlag {
		log.Printf("Generating default configuration file at %s", *configFilePathFlag)
		if err := SaveDefaultConfig(*configFilePathFlag); err != nil {
			return nil, err
		}
		log.Printf("Configuration file generated successfully")
	}

	// Load configuration from file
	config, err := LoadConfig(*configFlag)
	if err != nil {
		log.Printf("Warning: Could not load config file: %v", err)
		log.Printf("Using default configuration")

		// If config file doesn't exist, use default config
		config, _ = LoadConfig("")
	}

	// Override with command line flags if provided
	if *dirFlag != "" {
		config.RootDir = *dirFlag
	}

	if *portFlag != 0 {
		config.Port = *portFlag
	}

	if *proxyFlag != "" {
		proxyURL, err := url.Parse(*proxyFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		config.ProxyURL = proxyURL
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
