package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// QueueConfig is the static profile of one worker queue. Queues are fixed for
// the life of the process; profiles are intentionally asymmetric (a queue may
// run low concurrency with no retry so its backlog stays visible under load).
type QueueConfig struct {
	Name                string        `yaml:"name"`
	Concurrency         int           `yaml:"concurrency"`
	TaskTimeout         time.Duration `yaml:"task_timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	ResultTTL           time.Duration `yaml:"result_ttl"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	Producer *ProducerConfig `yaml:"producer,omitempty"`
}

// ProducerConfig drives the simulation batch producer for a queue.
type ProducerConfig struct {
	Task         string `yaml:"task"`
	MinBatch     int    `yaml:"min_batch"`
	MaxBatch     int    `yaml:"max_batch"`
	DepthCap     int    `yaml:"depth_cap"`
	EverySeconds int    `yaml:"every_seconds"`
}

type Config struct {
	Queues       []QueueConfig `yaml:"queues"`
	DefaultQueue string        `yaml:"default_queue"`
}

// Queue returns the profile for name, or false if no such queue exists.
func (c *Config) Queue(name string) (QueueConfig, bool) {
	for _, q := range c.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueConfig{}, false
}

// QueueNames returns the configured queue names in declaration order.
func (c *Config) QueueNames() []string {
	names := make([]string, 0, len(c.Queues))
	for _, q := range c.Queues {
		names = append(names, q.Name)
	}
	return names
}

func (c *Config) validate() error {
	if len(c.Queues) == 0 {
		return fmt.Errorf("at least one queue is required")
	}
	seen := map[string]bool{}
	for _, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("queue with empty name")
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate queue %q", q.Name)
		}
		seen[q.Name] = true
		if q.Concurrency < 1 {
			return fmt.Errorf("queue %q: concurrency must be >= 1", q.Name)
		}
		if q.MaxRetries < 1 {
			return fmt.Errorf("queue %q: max_retries must be >= 1", q.Name)
		}
		if q.TaskTimeout <= 0 {
			return fmt.Errorf("queue %q: task_timeout must be positive", q.Name)
		}
		if q.ResultTTL <= 0 {
			return fmt.Errorf("queue %q: result_ttl must be positive", q.Name)
		}
		if p := q.Producer; p != nil {
			if p.Task == "" {
				return fmt.Errorf("queue %q: producer task is required", q.Name)
			}
			if p.MinBatch < 1 || p.MaxBatch < p.MinBatch {
				return fmt.Errorf("queue %q: producer batch range invalid", q.Name)
			}
			if p.EverySeconds < 1 {
				return fmt.Errorf("queue %q: producer interval must be >= 1s", q.Name)
			}
		}
	}
	if !seen[c.DefaultQueue] {
		return fmt.Errorf("default queue %q is not configured", c.DefaultQueue)
	}
	return nil
}

// Load reads a YAML config file. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = Default().DefaultQueue
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Default is the plant profile: Homer's queue deliberately backs up (low
// concurrency, no retry), the competent workers clear fast, Grimey works
// strictly one task at a time.
func Default() *Config {
	hour := time.Hour
	return &Config{
		DefaultQueue: "inanimate_rod",
		Queues: []QueueConfig{
			{
				Name:                "homer",
				Concurrency:         3,
				TaskTimeout:         600 * time.Second,
				MaxRetries:          1, // D'oh! failures are expected; retrying clogs the queue
				ResultTTL:           hour,
				HealthCheckInterval: 120 * time.Second,
				Producer:            &ProducerConfig{Task: "homer_sim_task", MinBatch: 3, MaxBatch: 5, DepthCap: 500, EverySeconds: 10},
			},
			{
				Name:                "lenny",
				Concurrency:         15,
				TaskTimeout:         120 * time.Second,
				MaxRetries:          3,
				ResultTTL:           hour,
				HealthCheckInterval: 15 * time.Second,
				Producer:            &ProducerConfig{Task: "lenny_sim_task", MinBatch: 4, MaxBatch: 6, DepthCap: 100, EverySeconds: 15},
			},
			{
				Name:                "carl",
				Concurrency:         15,
				TaskTimeout:         120 * time.Second,
				MaxRetries:          3,
				ResultTTL:           hour,
				HealthCheckInterval: 15 * time.Second,
				Producer:            &ProducerConfig{Task: "carl_sim_task", MinBatch: 4, MaxBatch: 6, DepthCap: 100, EverySeconds: 15},
			},
			{
				Name:                "charlie",
				Concurrency:         10,
				TaskTimeout:         120 * time.Second,
				MaxRetries:          3,
				ResultTTL:           hour,
				HealthCheckInterval: 15 * time.Second,
				Producer:            &ProducerConfig{Task: "charlie_sim_task", MinBatch: 4, MaxBatch: 6, DepthCap: 100, EverySeconds: 15},
			},
			{
				Name:                "inanimate_rod",
				Concurrency:         15,
				TaskTimeout:         300 * time.Second,
				MaxRetries:          3,
				ResultTTL:           hour,
				HealthCheckInterval: 15 * time.Second,
				Producer:            &ProducerConfig{Task: "inanimate_rod_sim_task", MinBatch: 2, MaxBatch: 3, DepthCap: 50, EverySeconds: 45},
			},
			{
				Name:                "grimey",
				Concurrency:         1, // one ghost, one task at a time
				TaskTimeout:         600 * time.Second,
				MaxRetries:          1,
				ResultTTL:           hour,
				HealthCheckInterval: 60 * time.Second,
				Producer:            &ProducerConfig{Task: "grimey_sim_task", MinBatch: 1, MaxBatch: 1, DepthCap: 5, EverySeconds: 3600},
			},
		},
	}
}
