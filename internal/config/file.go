package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gihan9a/docproof/internal/annotate"
)

// FileConfig represents the structure of the configuration file
type FileConfig struct {
	Server struct {
		Port           int    `yaml:"port"`
		RootDir        string `yaml:"root_dir"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"server"`

	Proxy struct {
		URL            string `yaml:"url"`
		InsecureVerify bool   `yaml:"insecure_verify"`
	} `yaml:"proxy"`

	TLS struct {
		Enabled      bool     `yaml:"enabled"`
		CertFile     string   `yaml:"cert_file"`
		KeyFile      string   `yaml:"key_file"`
		GenerateCert bool     `yaml:"generate_cert"`
		Hosts        []string `yaml:"hosts"`
	} `yaml:"tls"`

	CORS struct {
		Enabled          bool   `yaml:"enabled"`
		AllowOrigins     string `yaml:"allow_origins"`
		AllowMethods     string `yaml:"allow_methods"`
		AllowHeaders     string `yaml:"allow_headers"`
		AllowCredentials bool   `yaml:"allow_credentials"`
		MaxAge           int    `yaml:"max_age"`
	} `yaml:"cors"`

	Compare struct {
		Delay         string `yaml:"delay"`
		CacheTTL      string `yaml:"cache_ttl"`
		CacheCapacity uint64 `yaml:"cache_capacity"`
		DiffTimeout   string `yaml:"diff_timeout"`
		LineMode      bool   `yaml:"line_mode"`
	} `yaml:"compare"`

	Layout struct {
		CharsPerLine int    `yaml:"chars_per_line"`
		LineHeight   int    `yaml:"line_height"`
		CharWidth    int    `yaml:"char_width"`
		MaxWidth     int    `yaml:"max_width"`
		BoxHeight    int    `yaml:"box_height"`
		MarginX      *int   `yaml:"margin_x"`
		MarginY      *int   `yaml:"margin_y"`
		LinePrefix   string `yaml:"line_prefix"`
	} `yaml:"layout"`
}

// defaultConfig returns the configuration used when no file is given
func defaultConfig() *Config {
	return &Config{
		RootDir:        ".",
		Port:           3000,
		MaxUploadBytes: 10 << 20,
		InsecureProxy:  false,
		TLS: TLSConfig{
			Enabled:      false,
			CertFile:     "cert/cert.pem",
			KeyFile:      "cert/key.pem",
			GenerateCert: false,
			Hosts:        []string{"localhost", "127.0.0.1"},
		},
		CORS: CORSConfig{
			Enabled:          false,
			AllowOrigins:     "*",
			AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
			AllowHeaders:     "Content-Type, Authorization, Subscribe, Version, Parents",
			AllowCredentials: false,
			MaxAge:           86400,
		},
		Compare: CompareConfig{
			Delay:         500 * time.Millisecond,
			CacheTTL:      10 * time.Minute,
			CacheCapacity: 128,
			DiffTimeout:   0,
			LineMode:      false,
		},
		Layout: annotate.DefaultLayout(),
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filePath string) (*Config, error) {
	config := defaultConfig()

	// If no config file specified, return default config
	if filePath == "" {
		return config, nil
	}

	// Read config file
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	var fileConfig FileConfig
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Update config with values from file
	if fileConfig.Server.Port != 0 {
		config.Port = fileConfig.Server.Port
	}
	if fileConfig.Server.RootDir != "" {
		config.RootDir = fileConfig.Server.RootDir
	}
	if fileConfig.Server.MaxUploadBytes != 0 {
		config.MaxUploadBytes = fileConfig.Server.MaxUploadBytes
	}

	// Proxy settings
	if fileConfig.Proxy.URL != "" {
		proxyURL, err := url.Parse(fileConfig.Proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		config.ProxyURL = proxyURL
		config.InsecureProxy = fileConfig.Proxy.InsecureVerify
	}

	// TLS settings
	config.TLS.Enabled = fileConfig.TLS.Enabled
	if fileConfig.TLS.CertFile != "" {
		config.TLS.CertFile = fileConfig.TLS.CertFile
	}
	if fileConfig.TLS.KeyFile != "" {
		config.TLS.KeyFile = fileConfig.TLS.KeyFile
	}
	config.TLS.GenerateCert = fileConfig.TLS.GenerateCert
	if len(fileConfig.TLS.Hosts) > 0 {
		config.TLS.Hosts = fileConfig.TLS.Hosts
	}

	// CORS settings
	config.CORS.Enabled = fileConfig.CORS.Enabled
	if fileConfig.CORS.AllowOrigins != "" {
		config.CORS.AllowOrigins = fileConfig.CORS.AllowOrigins
	}
	if fileConfig.CORS.AllowMethods != "" {
		config.CORS.AllowMethods = fileConfig.CORS.AllowMethods
	}
	if fileConfig.CORS.AllowHeaders != "" {
		config.CORS.AllowHeaders = fileConfig.CORS.AllowHeaders
	}
	config.CORS.AllowCredentials = fileConfig.CORS.AllowCredentials
	if fileConfig.CORS.MaxAge != 0 {
		config.CORS.MaxAge = fileConfig.CORS.MaxAge
	}

	// Compare settings
	if err := parseDuration(fileConfig.Compare.Delay, &config.Compare.Delay); err != nil {
		return nil, fmt.Errorf("invalid compare.delay: %w", err)
	}
	if err := parseDuration(fileConfig.Compare.CacheTTL, &config.Compare.CacheTTL); err != nil {
		return nil, fmt.Errorf("invalid compare.cache_ttl: %w", err)
	}
	if err := parseDuration(fileConfig.Compare.DiffTimeout, &config.Compare.DiffTimeout); err != nil {
		return nil, fmt.Errorf("invalid compare.diff_timeout: %w", err)
	}
	if fileConfig.Compare.CacheCapacity != 0 {
		config.Compare.CacheCapacity = fileConfig.Compare.CacheCapacity
	}
	config.Compare.LineMode = fileConfig.Compare.LineMode

	// Layout settings
	if fileConfig.Layout.CharsPerLine != 0 {
		config.Layout.CharsPerLine = fileConfig.Layout.CharsPerLine
	}
	if fileConfig.Layout.LineHeight != 0 {
		config.Layout.LineHeight = fileConfig.Layout.LineHeight
	}
	if fileConfig.Layout.CharWidth != 0 {
		config.Layout.CharWidth = fileConfig.Layout.CharWidth
	}
	if fileConfig.Layout.MaxWidth != 0 {
		config.Layout.MaxWidth = fileConfig.Layout.MaxWidth
	}
	if fileConfig.Layout.BoxHeight != 0 {
		config.Layout.BoxHeight = fileConfig.Layout.BoxHeight
	}
	if fileConfig.Layout.MarginX != nil {
		config.Layout.MarginX = *fileConfig.Layout.MarginX
	}
	if fileConfig.Layout.MarginY != nil {
		config.Layout.MarginY = *fileConfig.Layout.MarginY
	}
	if fileConfig.Layout.LinePrefix != "" {
		config.Layout.LinePrefix = fileConfig.Layout.LinePrefix
	}

	return config, nil
}

// parseDuration sets *d from s unless s is empty
func parseDuration(s string, d *time.Duration) error {
	if s == "" {
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// SaveDefaultConfig saves a default configuration file
func SaveDefaultConfig(filePath string) error {
	def := defaultConfig()
	var fileConfig FileConfig

	// Server settings
	fileConfig.Server.Port = def.Port
	fileConfig.Server.RootDir = def.RootDir
	fileConfig.Server.MaxUploadBytes = def.MaxUploadBytes

	// Proxy settings
	fileConfig.Proxy.URL = ""
	fileConfig.Proxy.InsecureVerify = false

	// TLS settings
	fileConfig.TLS.Enabled = def.TLS.Enabled
	fileConfig.TLS.CertFile = def.TLS.CertFile
	fileConfig.TLS.KeyFile = def.TLS.KeyFile
	fileConfig.TLS.GenerateCert = def.TLS.GenerateCert
	fileConfig.TLS.Hosts = def.TLS.Hosts

	// CORS settings
	fileConfig.CORS.Enabled = def.CORS.Enabled
	fileConfig.CORS.AllowOrigins = def.CORS.AllowOrigins
	fileConfig.CORS.AllowMethods = def.CORS.AllowMethods
	fileConfig.CORS.AllowHeaders = def.CORS.AllowHeaders
	fileConfig.CORS.AllowCredentials = def.CORS.AllowCredentials
	fileConfig.CORS.MaxAge = def.CORS.MaxAge

	// Compare settings
	fileConfig.Compare.Delay = def.Compare.Delay.String()
	fileConfig.Compare.CacheTTL = def.Compare.CacheTTL.String()
	fileConfig.Compare.CacheCapacity = def.Compare.CacheCapacity
	fileConfig.Compare.DiffTimeout = def.Compare.DiffTimeout.String()
	fileConfig.Compare.LineMode = def.Compare.LineMode

	// Layout settings
	fileConfig.Layout.CharsPerLine = def.Layout.CharsPerLine
	fileConfig.Layout.LineHeight = def.Layout.LineHeight
	fileConfig.Layout.CharWidth = def.Layout.CharWidth
	fileConfig.Layout.MaxWidth = def.Layout.MaxWidth
	fileConfig.Layout.BoxHeight = def.Layout.BoxHeight
	fileConfig.Layout.MarginX = &def.Layout.MarginX
	fileConfig.Layout.MarginY = &def.Layout.MarginY
	fileConfig.Layout.LinePrefix = def.Layout.LinePrefix

	// Marshal to YAML
	data, err := yaml.Marshal(fileConfig)
	if err != nil {
		return fmt.Errorf("error creating default config: %w", err)
	}

	// Add helpful comments
	yamlWithComments := "# Document Proof Server Configuration\n" +
		"# Layout values are estimates for a monospaced pane; see the layout section\n\n" +
		string(data)

	// Write to file
	if err := os.WriteFile(filePath, []byte(yamlWithComments), 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
