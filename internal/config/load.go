package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix scopes environment overrides, e.g. JOBX_SEARCH_BATCH_SIZE=3.
const EnvPrefix = "JOBX"

var ErrEmpty = errors.New("configuration file is empty")

// Load reads a configuration file in either the role/payband format or the legacy
// single job_title format.
//
// The hierarchy is decoded with yaml.v3 so role ids used as map keys keep their case.
// The search and safety knobs go through viper so they pick up defaults and
// JOBX_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("read configuration %s: %w", path, err)
	}

	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse configuration %s: %w", path, err)
	}
	if len(probe) == 0 {
		return nil, ErrEmpty
	}

	var cfg *Config
	_, hasTitle := probe["job_title"]
	_, hasRoles := probe["roles"]
	if hasTitle && !hasRoles {
		cfg, err = decodeLegacy(data)
	} else {
		cfg, err = decodeCurrent(data, probe)
	}
	if err != nil {
		return nil, fmt.Errorf("load configuration %s: %w", path, err)
	}
	cfg.Path = path

	if err := applyKnobs(cfg, path); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

func decodeCurrent(data []byte, probe map[string]any) (*Config, error) {
	if _, ok := probe["roles"]; !ok {
		return nil, errors.New("configuration must include 'roles'")
	}
	if _, ok := probe["regions"]; !ok {
		return nil, errors.New("configuration must include 'regions'")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Roles) == 0 {
		return nil, errors.New("configuration must define at least one role")
	}
	return &cfg, nil
}

func newKnobReader(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("search.radius_miles", DefaultRadiusMiles)
	v.SetDefault("search.results_per_location", DefaultResultsPerLocation)
	v.SetDefault("search.batch_size", DefaultBatchSize)
	v.SetDefault("search.max_retries", DefaultMaxRetries)
	v.SetDefault("search.retry_backoff_base", DefaultRetryBackoffBase)
	v.SetDefault("search.retry_max_jitter", DefaultRetryMaxJitter)
	v.SetDefault("search.task_delay", DefaultTaskDelay)
	v.SetDefault("search.batch_delay", DefaultBatchDelay)
	v.SetDefault("search.randomize_order", false)
	v.SetDefault("search.requests_per_minute", 0.0)
	v.SetDefault("search.scraper_command", DefaultScraperCommand)
	v.SetDefault("safety.cooldown", DefaultSafetyCooldown)
	v.SetDefault("safety.base_delay", DefaultSafetyBaseDelay)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

type knobs struct {
	Search SearchConfig `mapstructure:"search"`
	Safety SafetyConfig `mapstructure:"safety"`
}

func applyKnobs(cfg *Config, path string) error {
	v := newKnobReader(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read configuration %s: %w", path, err)
	}
	if cfg.IsLegacy() {
		// Legacy files keep these at the top level. They replace the defaults only,
		// so environment overrides still win.
		for _, key := range []struct{ legacy, current string }{
			{"search_radius", "search.radius_miles"},
			{"results_per_location", "search.results_per_location"},
			{"batch_size", "search.batch_size"},
		} {
			if v.InConfig(key.legacy) {
				v.SetDefault(key.current, v.Get(key.legacy))
			}
		}
	}

	var k knobs
	if err := v.Unmarshal(&k); err != nil {
		return fmt.Errorf("decode search settings %s: %w", path, err)
	}
	cfg.Search = k.Search
	cfg.Safety = k.Safety
	return nil
}
