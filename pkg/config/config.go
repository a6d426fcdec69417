package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/utils/ptr"

	"github.com/telekom/k8s-lease-claim/pkg/lease"
)

// Defaults for values left empty by flags and the config file.
const (
	DefaultLeaseName      = "lease-test"
	DefaultLeaseNamespace = "default"
	DefaultLogLevel       = "info"
	DefaultMetricsAddress = "0"
	DefaultJobIterations  = 10
	DefaultJobInterval    = "5s"
)

type Lease struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	// Duration, RenewGracePeriod and MinPollInterval are Go duration strings (e.g. "30s").
	Duration         string `yaml:"duration"`
	RenewGracePeriod string `yaml:"renewGracePeriod"`
	MinPollInterval  string `yaml:"minPollInterval"`
	// InitRetries is the number of retries for transient errors while creating the record.
	InitRetries int               `yaml:"initRetries"`
	Labels      map[string]string `yaml:"labels"`
}

type Metrics struct {
	// BindAddress of the metrics endpoint, "0" disables it.
	BindAddress string `yaml:"bindAddress"`
}

type Tracing struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Events struct {
	// Enabled writes Kubernetes Events on the Lease for creation, acquisition and loss.
	Enabled bool `yaml:"enabled"`
}

// Job is the work the elected leader runs.
type Job struct {
	// Iterations is unset when nil; zero runs no iterations.
	Iterations *int   `yaml:"iterations"`
	Interval   string `yaml:"interval"`
}

type Config struct {
	Claimant string `yaml:"claimant"`
	LogLevel string `yaml:"logLevel"`
	// Kubeconfig path; empty uses in-cluster config or the default loading rules.
	Kubeconfig string  `yaml:"kubeconfig"`
	Lease      Lease   `yaml:"lease"`
	Metrics    Metrics `yaml:"metrics"`
	Tracing    Tracing `yaml:"tracing"`
	Events     Events  `yaml:"events"`
	Job        Job     `yaml:"job"`
}

// Load loads the configuration from a YAML file.
func Load(path string) (Config, error) {
	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open lease-claim config file %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	return config, nil
}

// Defaults fills every unset field.
func (c *Config) Defaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Lease.Name == "" {
		c.Lease.Name = DefaultLeaseName
	}
	if c.Lease.Namespace == "" {
		c.Lease.Namespace = DefaultLeaseNamespace
	}
	if c.Lease.Duration == "" {
		c.Lease.Duration = lease.DefaultLeaseDuration.String()
	}
	if c.Lease.RenewGracePeriod == "" {
		c.Lease.RenewGracePeriod = lease.DefaultRenewGracePeriod.String()
	}
	if c.Lease.MinPollInterval == "" {
		c.Lease.MinPollInterval = lease.DefaultMinPollInterval.String()
	}
	if c.Metrics.BindAddress == "" {
		c.Metrics.BindAddress = DefaultMetricsAddress
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "otlp"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
	if c.Job.Iterations == nil {
		c.Job.Iterations = ptr.To(DefaultJobIterations)
	}
	if c.Job.Interval == "" {
		c.Job.Interval = DefaultJobInterval
	}
}

// ClaimParams parses the lease timings into claim parameters.
func (c Config) ClaimParams() (lease.ClaimParams, error) {
	params := lease.DefaultClaimParams()
	var err error
	if params.LeaseDuration, err = parseDuration("lease.duration", c.Lease.Duration, params.LeaseDuration); err != nil {
		return params, err
	}
	if params.RenewGracePeriod, err = parseDuration("lease.renewGracePeriod", c.Lease.RenewGracePeriod, params.RenewGracePeriod); err != nil {
		return params, err
	}
	if params.MinPollInterval, err = parseDuration("lease.minPollInterval", c.Lease.MinPollInterval, params.MinPollInterval); err != nil {
		return params, err
	}
	return params, params.Validate()
}

// JobIterations returns the number of leader job iterations.
func (c Config) JobIterations() int {
	return ptr.Deref(c.Job.Iterations, DefaultJobIterations)
}

// JobInterval parses the leader job interval.
func (c Config) JobInterval() (time.Duration, error) {
	return parseDuration("job.interval", c.Job.Interval, 5*time.Second)
}

// Validate reports configuration that cannot start a claimant.
func (c Config) Validate() error {
	if c.Claimant == "" {
		return fmt.Errorf("claimant identity is required (--claimant or CLAIMANT)")
	}
	if c.Lease.Name == "" {
		return fmt.Errorf("lease name is required")
	}
	if c.Lease.InitRetries < 0 {
		return fmt.Errorf("lease.initRetries must not be negative, got %d", c.Lease.InitRetries)
	}
	if n := c.JobIterations(); n < 0 {
		return fmt.Errorf("job.iterations must not be negative, got %d", n)
	}
	if _, err := c.ClaimParams(); err != nil {
		return err
	}
	if _, err := c.JobInterval(); err != nil {
		return err
	}
	return nil
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return d, nil
}
