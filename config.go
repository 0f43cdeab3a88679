package forwardproxy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/always-cache/forward-proxy/cache"
	"github.com/always-cache/forward-proxy/pkg/admission"
)

const DefaultMaintenanceInterval = time.Minute

// FileConfig is the YAML configuration file of the proxy binary.
type FileConfig struct {
	Provider string `yaml:"provider"`
	Admin    string `yaml:"admin"`
	// Duration string such as "30s". Empty means the default, "0" disables the periodic check.
	MaintenanceInterval string          `yaml:"maintenanceInterval"`
	Limits              ConfigLimits    `yaml:"limits"`
	Rules               admission.Rules `yaml:"rules"`
}

type ConfigLimits struct {
	CacheCapacity     int   `yaml:"cacheCapacity"`
	MaxObjectSize     int   `yaml:"maxObjectSize"`
	RenumberThreshold int64 `yaml:"renumberThreshold"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, fmt.Errorf("parsing %s: %w", filename, err)
	}
	if _, err := config.Interval(); err != nil {
		return config, err
	}
	return config, nil
}

// Interval returns the periodic maintenance interval.
func (c FileConfig) Interval() (time.Duration, error) {
	if c.MaintenanceInterval == "" {
		return DefaultMaintenanceInterval, nil
	}
	d, err := time.ParseDuration(c.MaintenanceInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid maintenanceInterval %q: %w", c.MaintenanceInterval, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid maintenanceInterval %q: negative", c.MaintenanceInterval)
	}
	return d, nil
}

// CacheLimits returns the cache limits, leaving zero values to the cache defaults.
func (c FileConfig) CacheLimits() cache.Limits {
	return cache.Limits{
		Capacity:      c.Limits.CacheCapacity,
		MaxObjectSize: c.Limits.MaxObjectSize,
	}
}
