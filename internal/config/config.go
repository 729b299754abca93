package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram  TelegramConfig        `yaml:"telegram"`
	Backend   BackendConfig         `yaml:"backend"`
	Nodes     map[string]NodeConfig `yaml:"nodes"`
	Router    RouterConfig          `yaml:"router"`
	NATS      NATSConfig            `yaml:"nats"`
	Store     StoreConfig           `yaml:"store"`
	Web       WebConfig             `yaml:"web"`
	Scheduler SchedulerConfig       `yaml:"scheduler"`
	Vault     VaultConfig           `yaml:"vault"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

// BackendConfig selects the generation backend. Kind "http" talks to a
// JSON endpoint directly; "nats" does request-reply over the bridge.
type BackendConfig struct {
	Kind        string        `yaml:"kind"`
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NodeConfig declares a node to spawn at startup. Children are node
// names from the same map; the named node becomes their parent.
type NodeConfig struct {
	Role         string   `yaml:"role"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	Children     []string `yaml:"children"`
}

type RouterConfig struct {
	DefaultNode string `yaml:"default_node"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			Kind:    "http",
			Model:   "default",
			Timeout: 2 * time.Minute,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: ":memory:",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Vault: VaultConfig{
			Path: "data/vault.enc",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SYNAPSE_CONFIG")
	if path == "" {
		path = "config/synapse.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SYNAPSE_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("SYNAPSE_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("SYNAPSE_BACKEND_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	if v := os.Getenv("SYNAPSE_BACKEND_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("SYNAPSE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("SYNAPSE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SYNAPSE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SYNAPSE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SYNAPSE_DEFAULT_NODE"); v != "" {
		cfg.Router.DefaultNode = v
	}
	if v := os.Getenv("SYNAPSE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}
