package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for mcp-gateway.yaml/.yml
// in standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("mcp-gateway")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: MCP_GATEWAY_SERVER_PORT
	viper.SetEnvPrefix("MCP_GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindEnvKeys()
}

// findConfigFile searches standard locations for an mcp-gateway config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mcp-gateway"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "mcp-gateway"))
		}
	} else {
		paths = append(paths, "/etc/mcp-gateway")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first mcp-gateway.yaml or .yml found in
// the given directories, or empty string if none exists.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcp-gateway"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds every config key for environment variable support.
// Each key answers to its prefixed spelling (MCP_GATEWAY_STORAGE_DIR) and,
// where a bare alias is established, to that too (STORAGE_DIR, PORT,
// LOG_LEVEL, MCP_GATEWAY_TOKEN).
func bindEnvKeys() {
	_ = viper.BindEnv("server.port", "MCP_GATEWAY_SERVER_PORT", "PORT")
	_ = viper.BindEnv("server.log_level", "MCP_GATEWAY_SERVER_LOG_LEVEL", "LOG_LEVEL")

	_ = viper.BindEnv("storage.dir", "MCP_GATEWAY_STORAGE_DIR", "STORAGE_DIR")

	// MCP_GATEWAY_TOKEN is the documented spelling; the prefixed form
	// also works through the replacer.
	_ = viper.BindEnv("api.token", "MCP_GATEWAY_API_TOKEN", "MCP_GATEWAY_TOKEN")

	_ = viper.BindEnv("health.interval")
	_ = viper.BindEnv("health.probe_timeout")

	_ = viper.BindEnv("capture.channel_size")
	_ = viper.BindEnv("capture.drain_grace")
	_ = viper.BindEnv("capture.exclude")

	_ = viper.BindEnv("tracing.enabled")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, validates, and returns the Config. A missing config file
// is not an error; the gateway runs on env vars and defaults alone.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or an
// empty string when running on env vars only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
