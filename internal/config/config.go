package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mirrorbox/mirrorbox/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".mirrorbox", "config.json")
	DefaultLedgerPath = filepath.Join(home, ".mirrorbox", "ledger.db")
	DefaultLogPath    = filepath.Join(home, ".mirrorbox", "logs", "mirrorbox.log")
)

const (
	DefaultResyncInterval = 5 * time.Minute
	DefaultWorkers        = 4
)

// DirPair binds a local directory to a folder path on the remote drive.
type DirPair struct {
	LocalDir   string `json:"local_dir" mapstructure:"local_dir"`
	RemotePath string `json:"remote_path" mapstructure:"remote_path"`
}

type Config struct {
	Pairs          []DirPair `json:"pairs" mapstructure:"pairs"`
	ServerURL      string    `json:"server_url" mapstructure:"server_url"`
	LedgerPath     string    `json:"ledger_path" mapstructure:"ledger_path"`
	ResyncInterval string    `json:"resync_interval" mapstructure:"resync_interval"`
	Workers        int       `json:"workers" mapstructure:"workers"`
	Path           string    `json:"-" mapstructure:"-"`
}

// Validate normalizes paths, applies defaults and rejects configs the daemon
// cannot run with.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: no directory pairs declared")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("config: server_url missing")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = DefaultLedgerPath
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.ResyncInterval != "" {
		if _, err := time.ParseDuration(c.ResyncInterval); err != nil {
			return fmt.Errorf("config: invalid resync_interval %q: %w", c.ResyncInterval, err)
		}
	}

	seen := make(map[string]struct{}, len(c.Pairs))
	for i := range c.Pairs {
		pair := &c.Pairs[i]

		local, err := utils.ResolvePath(pair.LocalDir)
		if err != nil {
			return fmt.Errorf("config: pair %d: %w", i, err)
		}
		if !utils.DirExists(local) {
			return fmt.Errorf("config: pair %d: local dir %q does not exist", i, local)
		}
		pair.LocalDir = local

		if _, ok := seen[local]; ok {
			return fmt.Errorf("config: local dir %q declared twice", local)
		}
		seen[local] = struct{}{}

		pair.RemotePath = "/" + strings.Trim(pair.RemotePath, "/")
		if pair.RemotePath == "/" {
			return fmt.Errorf("config: pair %d: remote path cannot be the drive root", i)
		}
	}

	return nil
}

// ResyncEvery returns the parsed resync interval. Call after Validate.
func (c *Config) ResyncEvery() time.Duration {
	if c.ResyncInterval == "" {
		return DefaultResyncInterval
	}
	d, err := time.ParseDuration(c.ResyncInterval)
	if err != nil {
		return DefaultResyncInterval
	}
	return d
}

// RemoteSegments returns the remote path split into folder name segments.
func (p *DirPair) RemoteSegments() []string {
	return strings.Split(strings.Trim(p.RemotePath, "/"), "/")
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
