package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	BackendLevelDB = "leveldb"
	BackendSQL     = "sql"
)

type Config struct {
	NetworkName    string    `toml:"NetworkName" yaml:"network"`
	DataDir        string    `toml:"DataDir" yaml:"data_dir"`
	MetricsAddress string    `toml:"MetricsAddress" yaml:"metrics_address"`
	Storage        Storage   `toml:"Storage" yaml:"storage"`
	Restore        Restore   `toml:"Restore" yaml:"restore"`
	Logging        Logging   `toml:"Logging" yaml:"logging"`
	Telemetry      Telemetry `toml:"Telemetry" yaml:"telemetry"`
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		NetworkName:    "rollup-local",
		DataDir:        "./rollup-data",
		MetricsAddress: ":9102",
		Storage:        Storage{Backend: BackendLevelDB},
		Restore: Restore{
			MaxAttempts:   1,
			RetryInterval: Duration{Duration: 2 * time.Second},
			JobQueueSize:  64,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Telemetry: Telemetry{Endpoint: "localhost:4318"},
	}
}

// Load loads the configuration from the given path. A missing .toml file is
// created with defaults; .yaml and .yml files are read with YAML.
func Load(path string) (*Config, error) {
	yamlFile := isYAML(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if yamlFile {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if yamlFile {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "rollup-local"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendLevelDB
	}
	if c.Storage.Backend == BackendLevelDB && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "chain")
	}
	if c.Restore.MaxAttempts == 0 {
		c.Restore.MaxAttempts = 1
	}
	if c.Restore.JobQueueSize == 0 {
		c.Restore.JobQueueSize = 64
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
