package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/nbexec/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	Identity      IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Service       ServiceConfig  `mapstructure:"service" yaml:"service"`
	Store         StoreConfig    `mapstructure:"store" yaml:"store"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig      `mapstructure:"ssh" yaml:"ssh"`
	Engine        EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Logging       LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// IdentityConfig names the user and session owning the notebook context.
// An empty session gets a random id at startup.
type IdentityConfig struct {
	User    string `mapstructure:"user" yaml:"user"`
	Session string `mapstructure:"session" yaml:"session"`
}

// ServiceConfig controls core coordinator behavior.
type ServiceConfig struct {
	QueueDepth int `mapstructure:"queue_depth" yaml:"queue_depth"`
}

// StoreConfig selects the chunk output store backend.
type StoreConfig struct {
	Backend            string `mapstructure:"backend" yaml:"backend"`
	Dir                string `mapstructure:"dir" yaml:"dir"`
	Path               string `mapstructure:"path" yaml:"path"`
	MaxOutputsPerChunk int    `mapstructure:"max_outputs_per_chunk" yaml:"max_outputs_per_chunk"`
}

// HTTPConfig configures the HTTP RPC and event stream server.
type HTTPConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr        string `mapstructure:"addr" yaml:"addr"`
	BasePath    string `mapstructure:"base_path" yaml:"base_path"`
	Token       string `mapstructure:"token" yaml:"token"`
	HistorySize int    `mapstructure:"history_size" yaml:"history_size"`
}

// SSHConfig configures the SSH console.
type SSHConfig struct {
	Enabled     bool      `mapstructure:"enabled" yaml:"enabled"`
	Addr        string    `mapstructure:"addr" yaml:"addr"`
	HostKeyPath string    `mapstructure:"host_key_path" yaml:"host_key_path"`
	Prompt      string    `mapstructure:"prompt" yaml:"prompt"`
	Theme       string    `mapstructure:"theme" yaml:"theme"`
	Users       []SSHUser `mapstructure:"users" yaml:"users"`
}

// SSHUser is an account allowed on the SSH console.
type SSHUser struct {
	Username     string   `mapstructure:"username" yaml:"username"`
	PasswordHash string   `mapstructure:"password_hash" yaml:"password_hash"`
	LoginPubKeys []string `mapstructure:"login_pubkeys" yaml:"login_pubkeys"`
}

// EngineConfig configures the gRPC engine bridge.
type EngineConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr       string `mapstructure:"addr" yaml:"addr"`
	SendBuffer int    `mapstructure:"send_buffer" yaml:"send_buffer"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Identity: IdentityConfig{
			User:    "$USER",
			Session: "",
		},
		Service: ServiceConfig{
			QueueDepth: schema.DefaultQueueDepth,
		},
		Store: StoreConfig{
			Backend:            "file",
			Dir:                filepath.Join(home, ".nbexec", "cache"),
			Path:               filepath.Join(home, ".nbexec", "cache.db"),
			MaxOutputsPerChunk: 1000,
		},
		HTTP: HTTPConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:27580",
			BasePath:    "",
			Token:       "",
			HistorySize: 512,
		},
		SSH: SSHConfig{
			Enabled:     false,
			Addr:        ":27522",
			HostKeyPath: filepath.Join(home, ".nbexec", "ssh_host_key"),
			Prompt:      "> ",
			Theme:       "outrun",
			Users:       []SSHUser{},
		},
		Engine: EngineConfig{
			Enabled:    true,
			Addr:       "unix://" + filepath.Join(home, ".nbexec", "engine.sock"),
			SendBuffer: 64,
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".nbexec", "config.yaml"), nil
}
