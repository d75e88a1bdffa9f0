package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	Scanner struct {
		Concurrency    uint32 `json:"concurrency"`
		ProbeTimeout   uint32 `json:"probe_timeout"`
		ResolveTimeout uint32 `json:"resolve_timeout"`
		Scheme         string `json:"scheme"`
		Port           uint16 `json:"port"`
		Path           string `json:"path"`
		UserAgent      string `json:"user_agent"`
	} `json:"scanner"`

	Scheduler struct {
		MaxFirstOctet   uint32 `json:"max_first_octet"`
		MaxSecondOctet  uint32 `json:"max_second_octet"`
		LookupBatchSize uint32 `json:"lookup_batch_size"`
	} `json:"scheduler"`

	Supervisor struct {
		RestartOnFinish bool   `json:"restart_on_finish"`
		MaxRestarts     uint32 `json:"max_restarts"`
		CheckpointEvery uint32 `json:"checkpoint_every"`
		RestartTimer    Timer  `json:"restart_timer"`
		RescanTimer     Timer  `json:"rescan_timer"`
	} `json:"supervisor"`

	Resolver struct {
		Nameserver string `json:"nameserver"`
		CacheTimer Timer  `json:"cache_timer"`
	} `json:"resolver"`

	GeoLite struct {
		CountryDB string `json:"country_db"`
		ASNDB     string `json:"asn_db"`
	} `json:"geolite"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const DefaultSettingsPath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	ErrInvalidSettings = errors.New("config: invalid settings")
)

// Default returns the embedded settings.
func Default() (Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode default settings: %w", err)
	}
	return cfg, nil
}

// ReadSettings loads the settings file at path. A missing file is created from
// the embedded defaults. Fields absent from the file keep their default value.
func ReadSettings(path string) (Config, error) {
	if path == "" {
		path = DefaultSettingsPath
	}

	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read settings file: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := writeDefaultSettings(path); err != nil {
			return Config{}, err
		}
		data = defaultConfig
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode settings file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return cfg, nil
}

func writeDefaultSettings(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create settings directory: %w", err)
		}
	}
	if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("config: write default settings file: %w", err)
	}
	return nil
}

// Validate rejects settings the scanner cannot run with.
func (cfg Config) Validate() error {
	var problems []string

	if cfg.Scanner.Concurrency == 0 {
		problems = append(problems, "scanner.concurrency must be positive")
	}
	if cfg.Scanner.ProbeTimeout == 0 {
		problems = append(problems, "scanner.probe_timeout must be positive")
	}
	switch strings.ToLower(cfg.Scanner.Scheme) {
	case "http", "https":
	default:
		problems = append(problems, fmt.Sprintf("scanner.scheme %q is not http or https", cfg.Scanner.Scheme))
	}
	if cfg.Scheduler.MaxFirstOctet > 256 || cfg.Scheduler.MaxSecondOctet > 256 {
		problems = append(problems, "scheduler octet bounds must not exceed 256")
	}
	if cfg.Scheduler.LookupBatchSize == 0 {
		problems = append(problems, "scheduler.lookup_batch_size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

func (cfg Config) ProbeTimeout() time.Duration {
	return time.Duration(cfg.Scanner.ProbeTimeout) * time.Millisecond
}

func (cfg Config) ResolveTimeout() time.Duration {
	return time.Duration(cfg.Scanner.ResolveTimeout) * time.Millisecond
}

func (cfg Config) RestartDelay() time.Duration {
	return CalculateBetweenTime(cfg.Supervisor.RestartTimer)
}

// RescanDelay may be zero, unlike the restart delay.
func (cfg Config) RescanDelay() time.Duration {
	return time.Duration(CalculateMillisecondsOfCheckingPeriod(cfg.Supervisor.RescanTimer)) * time.Millisecond
}

func (cfg Config) ResolverCacheTTL() time.Duration {
	return CalculateBetweenTime(cfg.Resolver.CacheTimer)
}
