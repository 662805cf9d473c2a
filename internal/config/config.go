package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "valor"

// Environment variables that override values loaded from the config file.
const (
	EnvConfigPath          = "VALOR_CONFIG"
	EnvWorkspaceConfigPath = "VALOR_WORKSPACE_CONFIG"
	EnvLogLevel            = "VALOR_LOG_LEVEL"
	EnvLogPath             = "VALOR_LOG_PATH"
	EnvAuditDBPath         = "VALOR_AUDIT_DB"
	EnvAuthzAddr           = "VALOR_AUTHZ_ADDR"
	EnvAuthzToken          = "VALOR_AUTHZ_TOKEN"
)

// ServerConfig configures the local authorization service used by tool
// servers running outside the agent process.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr"`
	AuthToken  string `json:"auth_token,omitempty"` // Bearer token; empty disables auth (loopback only)
}

// SandboxConfig holds extra paths for the workspace Landlock profile.
type SandboxConfig struct {
	AdditionalReadOnlyPaths []string `json:"additional_read_only_paths,omitempty"`
	DisableSandbox          bool     `json:"disable_sandbox,omitempty"`
	BestEffort              bool     `json:"best_effort"`
}

// Config represents application configuration
type Config struct {
	WorkspaceConfigPath  string        `json:"workspace_config_path"`
	LogLevel             string        `json:"log_level"` // debug, info, warn, error, none
	LogPath              string        `json:"log_path"`  // "-" logs to stderr
	AuditDBPath          string        `json:"audit_db_path,omitempty"`
	WatchWorkspaceConfig bool          `json:"watch_workspace_config"`
	Server               ServerConfig  `json:"server"`
	Sandbox              SandboxConfig `json:"sandbox"`
}

// LookupEnvFunc matches os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", appName)
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", appName)
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", appName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", appName)
	default:
		return defaultConfigDir()
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		WorkspaceConfigPath: filepath.Join(defaultConfigDir(), "workspace_config.json"),
		LogLevel:            "info",
		LogPath:             filepath.Join(defaultStateDir(), "valor.log"),
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8937",
		},
		Sandbox: SandboxConfig{
			BestEffort: true,
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if config.WorkspaceConfigPath == "" {
		config.WorkspaceConfigPath = defaults.WorkspaceConfigPath
	} else if !filepath.IsAbs(config.WorkspaceConfigPath) {
		// Relative paths are relative to the config file, not the cwd.
		config.WorkspaceConfigPath = filepath.Join(filepath.Dir(path), config.WorkspaceConfigPath)
	}
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.LogPath == "" {
		config.LogPath = defaults.LogPath
	}
	if config.Server.ListenAddr == "" {
		config.Server.ListenAddr = defaults.Server.ListenAddr
	}

	return config, nil
}

// ApplyEnv overrides fields from VALOR_* environment variables. A nil lookup
// uses os.LookupEnv.
func (c *Config) ApplyEnv(lookup LookupEnvFunc) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	override := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(EnvWorkspaceConfigPath, &c.WorkspaceConfigPath)
	override(EnvLogLevel, &c.LogLevel)
	override(EnvLogPath, &c.LogPath)
	override(EnvAuditDBPath, &c.AuditDBPath)
	override(EnvAuthzAddr, &c.Server.ListenAddr)
	override(EnvAuthzToken, &c.Server.AuthToken)
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// The file may carry the authz token.
	return os.WriteFile(path, data, 0600)
}

// GetConfigPath returns the config path, honouring VALOR_CONFIG.
func GetConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return filepath.Join(defaultConfigDir(), "config.json")
}
