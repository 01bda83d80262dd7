package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("identity.user", cfg.Identity.User)
	v.SetDefault("identity.session", cfg.Identity.Session)
	v.SetDefault("service.queue_depth", cfg.Service.QueueDepth)
	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.dir", cfg.Store.Dir)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.max_outputs_per_chunk", cfg.Store.MaxOutputsPerChunk)
	v.SetDefault("http.enabled", cfg.HTTP.Enabled)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.token", cfg.HTTP.Token)
	v.SetDefault("http.history_size", cfg.HTTP.HistorySize)
	v.SetDefault("ssh.enabled", cfg.SSH.Enabled)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.prompt", cfg.SSH.Prompt)
	v.SetDefault("ssh.theme", cfg.SSH.Theme)
	v.SetDefault("ssh.users", cfg.SSH.Users)
	v.SetDefault("engine.enabled", cfg.Engine.Enabled)
	v.SetDefault("engine.addr", cfg.Engine.Addr)
	v.SetDefault("engine.send_buffer", cfg.Engine.SendBuffer)
	v.SetDefault("logging.disable_audit_trails", cfg.Logging.DisableAuditTrails)
	v.SetEnvPrefix("NBEXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateStoreConfig(cfg.Store); err != nil {
		return Config{}, err
	}
	if err := validateHTTPConfig(cfg.HTTP); err != nil {
		return Config{}, err
	}
	if err := validateSSHConfig(cfg.SSH); err != nil {
		return Config{}, err
	}
	if cfg.Engine.Enabled && strings.TrimSpace(cfg.Engine.Addr) == "" {
		return Config{}, fmt.Errorf("engine.addr is required when the engine bridge is enabled")
	}
	return cfg, nil
}

func validateStoreConfig(cfg StoreConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "file":
		if strings.TrimSpace(cfg.Dir) == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Path) == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", cfg.Backend)
	}
	if cfg.MaxOutputsPerChunk < 0 {
		return fmt.Errorf("store.max_outputs_per_chunk must not be negative")
	}
	return nil
}

func validateSSHConfig(cfg SSHConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if len(cfg.Users) == 0 {
		return fmt.Errorf("ssh.users must list at least one user when ssh is enabled")
	}
	for i, user := range cfg.Users {
		if strings.TrimSpace(user.Username) == "" {
			return fmt.Errorf("ssh.users[%d].username is required", i)
		}
		if strings.TrimSpace(user.PasswordHash) == "" && len(user.LoginPubKeys) == 0 {
			return fmt.Errorf("ssh.users[%d] needs password_hash or login_pubkeys", i)
		}
	}
	return nil
}

func validateHTTPConfig(cfg HTTPConfig) error {
	if cfg.Enabled && strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("http.addr is required when http is enabled")
	}
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Identity.User = expandEnv(cfg.Identity.User)
	cfg.Identity.Session = expandEnv(cfg.Identity.Session)
	cfg.Store.Dir = expandEnv(cfg.Store.Dir)
	cfg.Store.Path = expandEnv(cfg.Store.Path)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.Engine.Addr = expandEnv(cfg.Engine.Addr)
	cfg.HTTP.Token = expandEnv(cfg.HTTP.Token)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
