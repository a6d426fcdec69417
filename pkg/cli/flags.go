package cli

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"k8s.io/utils/ptr"

	"github.com/telekom/k8s-lease-claim/pkg/config"
	"github.com/telekom/k8s-lease-claim/pkg/lease"
	"github.com/telekom/k8s-lease-claim/pkg/system"
)

// options holds the values bound to the run command's flags.
type options struct {
	configPath    string
	development   bool
	flags         config.Config
	jobIterations int
	bindings      []binding
}

// binding ties a flag and its environment variable to the config field it sets.
type binding struct {
	flag  string
	env   string
	apply func(dst, src *config.Config)
}

func (o *options) bindFlags(fs *pflag.FlagSet) {
	f := &o.flags
	fs.StringVar(&o.configPath, "config", getEnvString("LEASE_CLAIM_CONFIG", ""),
		"Path to a YAML configuration file. Flags and environment variables that are set explicitly take precedence")
	fs.BoolVar(&o.development, "development", getEnvBool("LOG_DEVELOPMENT", false),
		"Log in human readable console format instead of JSON")

	o.stringVar(fs, &f.Claimant, "claimant", "CLAIMANT", "",
		"Identity this process claims the lease as (required)",
		func(dst, src *config.Config) { dst.Claimant = src.Claimant })
	o.stringVar(fs, &f.LogLevel, "log-level", "LOG_LEVEL", config.DefaultLogLevel,
		"Log level: "+strings.Join(system.LogLevels, ", "),
		func(dst, src *config.Config) { dst.LogLevel = src.LogLevel })
	o.stringVar(fs, &f.Kubeconfig, "kubeconfig", "KUBECONFIG", "",
		"Path to a kubeconfig file. If empty, the in-cluster configuration or the default loading rules are used",
		func(dst, src *config.Config) { dst.Kubeconfig = src.Kubeconfig })

	// Lease
	o.stringVar(fs, &f.Lease.Namespace, "namespace", "LEASE_NAMESPACE", config.DefaultLeaseNamespace,
		"Namespace of the Lease object",
		func(dst, src *config.Config) { dst.Lease.Namespace = src.Lease.Namespace })
	o.stringVar(fs, &f.Lease.Name, "lease-name", "LEASE_NAME", config.DefaultLeaseName,
		"Name of the Lease object",
		func(dst, src *config.Config) { dst.Lease.Name = src.Lease.Name })
	o.stringVar(fs, &f.Lease.Duration, "lease-duration", "LEASE_DURATION", lease.DefaultLeaseDuration.String(),
		"Validity window of a claim (e.g., '30s')",
		func(dst, src *config.Config) { dst.Lease.Duration = src.Lease.Duration })
	o.stringVar(fs, &f.Lease.RenewGracePeriod, "renew-grace-period", "RENEW_GRACE_PERIOD", lease.DefaultRenewGracePeriod.String(),
		"How long before expiry the holder renews its claim (e.g., '1s')",
		func(dst, src *config.Config) { dst.Lease.RenewGracePeriod = src.Lease.RenewGracePeriod })
	o.stringVar(fs, &f.Lease.MinPollInterval, "min-poll-interval", "MIN_POLL_INTERVAL", lease.DefaultMinPollInterval.String(),
		"Minimum interval between reads while another claimant holds the lease",
		func(dst, src *config.Config) { dst.Lease.MinPollInterval = src.Lease.MinPollInterval })
	o.intVar(fs, &f.Lease.InitRetries, "init-retries", "INIT_RETRIES", 0,
		"Retries for transient errors while creating the Lease. 0 fails on the first error",
		func(dst, src *config.Config) { dst.Lease.InitRetries = src.Lease.InitRetries })

	// Metrics and events
	o.stringVar(fs, &f.Metrics.BindAddress, "metrics-bind-address", "METRICS_BIND_ADDRESS", config.DefaultMetricsAddress,
		"The address the metrics endpoint binds to (e.g., ':8081'), or 0 to disable the metrics endpoint",
		func(dst, src *config.Config) { dst.Metrics.BindAddress = src.Metrics.BindAddress })
	o.boolVar(fs, &f.Events.Enabled, "emit-events", "EMIT_EVENTS", false,
		"Record Kubernetes Events on the Lease when it is created, acquired or lost",
		func(dst, src *config.Config) { dst.Events.Enabled = src.Events.Enabled })

	// Tracing
	o.boolVar(fs, &f.Tracing.Enabled, "tracing-enabled", "TRACING_ENABLED", false,
		"Export OpenTelemetry spans for Lease API calls",
		func(dst, src *config.Config) { dst.Tracing.Enabled = src.Tracing.Enabled })
	o.stringVar(fs, &f.Tracing.Endpoint, "tracing-endpoint", "TRACING_ENDPOINT", "localhost:4317",
		"OTLP gRPC collector endpoint",
		func(dst, src *config.Config) { dst.Tracing.Endpoint = src.Tracing.Endpoint })
	o.boolVar(fs, &f.Tracing.Insecure, "tracing-insecure", "TRACING_INSECURE", false,
		"Disable TLS towards the OTLP collector",
		func(dst, src *config.Config) { dst.Tracing.Insecure = src.Tracing.Insecure })

	// Leader job
	o.intVar(fs, &o.jobIterations, "job-iterations", "JOB_ITERATIONS", config.DefaultJobIterations,
		"Number of iterations the leader job runs",
		func(dst, _ *config.Config) { dst.Job.Iterations = ptr.To(o.jobIterations) })
	o.stringVar(fs, &f.Job.Interval, "job-interval", "JOB_INTERVAL", config.DefaultJobInterval,
		"Pause between leader job iterations (e.g., '5s')",
		func(dst, src *config.Config) { dst.Job.Interval = src.Job.Interval })
}

func (o *options) stringVar(fs *pflag.FlagSet, p *string, name, env, def, usage string, apply func(dst, src *config.Config)) {
	fs.StringVar(p, name, getEnvString(env, def), usage+" (env "+env+")")
	o.bindings = append(o.bindings, binding{flag: name, env: env, apply: apply})
}

func (o *options) boolVar(fs *pflag.FlagSet, p *bool, name, env string, def bool, usage string, apply func(dst, src *config.Config)) {
	fs.BoolVar(p, name, getEnvBool(env, def), usage+" (env "+env+")")
	o.bindings = append(o.bindings, binding{flag: name, env: env, apply: apply})
}

func (o *options) intVar(fs *pflag.FlagSet, p *int, name, env string, def int, usage string, apply func(dst, src *config.Config)) {
	fs.IntVar(p, name, getEnvInt(env, def), usage+" (env "+env+")")
	o.bindings = append(o.bindings, binding{flag: name, env: env, apply: apply})
}

// resolve merges the configuration file with flags and environment. Without
// a file every flag value is used. With a file only flags set on the command
// line or through their environment variable override it.
func (o *options) resolve(fs *pflag.FlagSet) (config.Config, error) {
	var cfg config.Config
	fromFile := o.configPath != ""
	if fromFile {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	for _, b := range o.bindings {
		if !fromFile || fs.Changed(b.flag) || envSet(b.env) {
			b.apply(&cfg, &o.flags)
		}
	}
	cfg.Defaults()
	return cfg, nil
}

func printConfig(log *zap.SugaredLogger, c config.Config) {
	log.Infow("Configuration",
		"claimant", c.Claimant,
		"log_level", c.LogLevel,
		"kubeconfig", c.Kubeconfig,
		// Lease
		"lease_namespace", c.Lease.Namespace,
		"lease_name", c.Lease.Name,
		"lease_duration", c.Lease.Duration,
		"renew_grace_period", c.Lease.RenewGracePeriod,
		"min_poll_interval", c.Lease.MinPollInterval,
		"init_retries", c.Lease.InitRetries,
		// Observability
		"metrics_bind_address", c.Metrics.BindAddress,
		"emit_events", c.Events.Enabled,
		"tracing_enabled", c.Tracing.Enabled,
		"tracing_endpoint", c.Tracing.Endpoint,
		// Job
		"job_iterations", c.JobIterations(),
		"job_interval", c.Job.Interval,
	)
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}

// getEnvInt returns the value of an environment variable as an int, or the provided default if not set or invalid.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}
