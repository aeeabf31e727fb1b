// Package config loads the coordinator's YAML configuration file into
// a flat struct with yaml.v2, clamping a couple of fields at startup.
package config

import (
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// StoreDriver selects a metadata-store backend.
type StoreDriver string

// Supported store drivers.
const (
	StoreDriverSQL   StoreDriver = "sql"
	StoreDriverMongo StoreDriver = "mongo"
	StoreDriverBolt  StoreDriver = "bolt"
	StoreDriverRedis StoreDriver = "redis"
)

// RetryCeilings holds per-branch-type attempt ceilings.
type RetryCeilings struct {
	AT  int `yaml:"at"`
	TCC int `yaml:"tcc"`
	HTTP int `yaml:"http"`
	MQ  int `yaml:"mq"`
	XA  int `yaml:"xa"`
}

// Config is the coordinator's full runtime configuration.
type Config struct {
	Server struct {
		Address  string `yaml:"address"`
		Port     int    `yaml:"port"`
		HTTPPort int    `yaml:"httpPort"`
		WorkerID int64  `yaml:"workerId"`
	} `yaml:"server"`

	Tx struct {
		DefaultTimeoutMs int64 `yaml:"defaultTimeoutMs"`
		MaxTimeoutMs     int64 `yaml:"maxTimeoutMs"`
	} `yaml:"tx"`

	Branch struct {
		TimeoutMs int64 `yaml:"timeoutMs"`
	} `yaml:"branch"`

	Lock struct {
		TimeoutMs      int64 `yaml:"timeoutMs"`
		RetryIntervalMs int64 `yaml:"retryIntervalMs"`
		MaxRetries     int   `yaml:"maxRetries"`
	} `yaml:"lock"`

	Retry struct {
		InitialIntervalMs int64         `yaml:"initialIntervalMs"`
		Multiplier        float64       `yaml:"multiplier"`
		MaxIntervalMs     int64         `yaml:"maxIntervalMs"`
		MaxAttempts       RetryCeilings `yaml:"maxAttempts"`
	} `yaml:"retry"`

	Scan struct {
		IntervalMs int64 `yaml:"intervalMs"`
	} `yaml:"scan"`

	Failover struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"failover"`

	Store struct {
		Driver StoreDriver `yaml:"driver"`
		DSN    string      `yaml:"dsn"`
	} `yaml:"store"`

	Log struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxBackups int    `yaml:"maxBackups"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
	} `yaml:"log"`

	RequestTimeoutSec int `yaml:"requestTimeoutSec"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	c := &Config{}
	c.Server.Address = "0.0.0.0"
	c.Server.Port = 8091
	c.Server.HTTPPort = 8092
	c.Server.WorkerID = 1
	c.Tx.DefaultTimeoutMs = 60000
	c.Tx.MaxTimeoutMs = 300000
	c.Branch.TimeoutMs = 30000
	c.Lock.TimeoutMs = 10000
	c.Lock.RetryIntervalMs = 10
	c.Lock.MaxRetries = 30
	c.Retry.InitialIntervalMs = 1000
	c.Retry.Multiplier = 1.5
	c.Retry.MaxIntervalMs = 10000
	c.Retry.MaxAttempts = RetryCeilings{AT: 5, TCC: 5, HTTP: 3, MQ: 3, XA: 3}
	c.Scan.IntervalMs = 60000
	c.Failover.Enabled = true
	c.Store.Driver = StoreDriverSQL
	c.Log.Level = "info"
	c.RequestTimeoutSec = 10
	return c
}

// Load reads and parses a YAML config file, applying defaults for any
// zero-valued field and clamping timeouts into their allowed bounds.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, err
		}
	}
	c.normalize()
	return c, nil
}

func (c *Config) normalize() {
	def := Default()
	if c.Tx.DefaultTimeoutMs <= 0 {
		c.Tx.DefaultTimeoutMs = def.Tx.DefaultTimeoutMs
	}
	if c.Tx.MaxTimeoutMs <= 0 {
		c.Tx.MaxTimeoutMs = def.Tx.MaxTimeoutMs
	}
	if c.Branch.TimeoutMs <= 0 {
		c.Branch.TimeoutMs = def.Branch.TimeoutMs
	}
	if c.Lock.MaxRetries <= 0 {
		c.Lock.MaxRetries = def.Lock.MaxRetries
	}
	if c.Lock.RetryIntervalMs <= 0 {
		c.Lock.RetryIntervalMs = def.Lock.RetryIntervalMs
	}
	if c.Retry.Multiplier <= 1 {
		c.Retry.Multiplier = def.Retry.Multiplier
	}
	if c.Retry.MaxIntervalMs <= 0 {
		c.Retry.MaxIntervalMs = def.Retry.MaxIntervalMs
	}
	if c.Scan.IntervalMs <= 0 {
		c.Scan.IntervalMs = def.Scan.IntervalMs
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = def.RequestTimeoutSec
	}
	if c.Retry.MaxAttempts.AT <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}

	// clamp the configured default per-transaction timeout into [1s, max].
	minTimeout := int64(1000)
	if c.Tx.DefaultTimeoutMs < minTimeout {
		c.Tx.DefaultTimeoutMs = minTimeout
	}
	if c.Tx.DefaultTimeoutMs > c.Tx.MaxTimeoutMs {
		c.Tx.DefaultTimeoutMs = c.Tx.MaxTimeoutMs
	}
}

// ClampTimeout bounds a caller-requested global-transaction timeout into
// [1s, Tx.MaxTimeoutMs], falling back to the configured default when 0.
func (c *Config) ClampTimeout(requestedMs int64) int64 {
	if requestedMs <= 0 {
		return c.Tx.DefaultTimeoutMs
	}
	if requestedMs < 1000 {
		return 1000
	}
	if requestedMs > c.Tx.MaxTimeoutMs {
		return c.Tx.MaxTimeoutMs
	}
	return requestedMs
}

// ClampBranchTimeout bounds a branch timeout into [1s, 5m].
func (c *Config) ClampBranchTimeout(requestedMs int64) int64 {
	const max = int64(5 * time.Minute / time.Millisecond)
	if requestedMs <= 0 {
		return c.Branch.TimeoutMs
	}
	if requestedMs < 1000 {
		return 1000
	}
	if requestedMs > max {
		return max
	}
	return requestedMs
}
