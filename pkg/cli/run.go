package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/telekom/k8s-lease-claim/pkg/config"
	"github.com/telekom/k8s-lease-claim/pkg/lease"
	"github.com/telekom/k8s-lease-claim/pkg/lease/kubestore"
	"github.com/telekom/k8s-lease-claim/pkg/metrics"
	"github.com/telekom/k8s-lease-claim/pkg/system"
	"github.com/telekom/k8s-lease-claim/pkg/telemetry"
	"github.com/telekom/k8s-lease-claim/pkg/version"
)

// ErrLeadershipLost is returned when the claim is lost while the leader job runs.
var ErrLeadershipLost = errors.New("leadership lost before the leader job completed")

const (
	componentName   = "lease-claim"
	shutdownTimeout = 5 * time.Second
)

func NewRunCommand() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Claim the lease and run the leader job once elected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.resolve(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			zl, err := system.NewLogger(cfg.LogLevel, o.development)
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			defer func() { _ = zl.Sync() }()
			// Route controller-runtime and client-go logging through zap
			ctrl.SetLogger(zapr.NewLogger(zl))

			log := zl.Sugar()
			log.With("version", version.Version).Info("Starting lease-claim")
			printConfig(log, cfg)

			return Run(cmd.Context(), cfg, log)
		},
	}

	o.bindFlags(cmd.Flags())
	return cmd
}

// Run connects to the cluster, claims the lease and runs the leader job.
func Run(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	restCfg, err := restConfig(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to load kubernetes client configuration: %w", err)
	}
	restCfg.UserAgent = version.UserAgent()
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	tp, shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:        cfg.Tracing.Enabled,
		ServiceVersion: version.Version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warnw("Failed to shut down tracing", "error", err)
		}
	}()

	stopMetrics := serveMetrics(cfg.Metrics.BindAddress, log)
	defer stopMetrics()

	store := kubestore.New(clientset, cfg.Lease.Namespace, kubestore.WithTracerProvider(tp))
	c := claimant{
		cfg:   cfg,
		log:   log,
		store: store,
	}
	if cfg.Events.Enabled {
		events := kubestore.NewEventNotifier(clientset, store.Namespace(), componentName, log)
		defer events.Shutdown()
		c.notifiers = append(c.notifiers, events)
	}
	return c.run(ctx)
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return ctrl.GetConfig()
}

// serveMetrics starts the Prometheus endpoint unless addr is empty or "0" and
// returns a function that stops it.
func serveMetrics(addr string, log *zap.SugaredLogger) func() {
	if addr == "" || addr == "0" {
		log.Infow("Metrics endpoint disabled")
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Infow("Serving metrics", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Metrics server failed", "address", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// lister is implemented by stores that can enumerate all records.
type lister interface {
	List(ctx context.Context) ([]*lease.Record, error)
}

// claimant is one run of the command against an already connected store.
type claimant struct {
	cfg       config.Config
	log       *zap.SugaredLogger
	store     lease.Store
	notifiers []lease.Notifier
}

func (c claimant) run(ctx context.Context) error {
	params, err := c.cfg.ClaimParams()
	if err != nil {
		return err
	}
	interval, err := c.cfg.JobInterval()
	if err != nil {
		return err
	}

	opts := []lease.Option{
		lease.WithLogger(c.log),
		lease.WithLabels(c.labels()),
		lease.WithInitRetry(lease.RetryConfig{MaxRetries: c.cfg.Lease.InitRetries}),
	}
	for _, n := range c.notifiers {
		opts = append(opts, lease.WithNotifier(n))
	}
	mgr, err := lease.Init(ctx, c.store, c.cfg.Lease.Name, opts...)
	if err != nil {
		return err
	}
	c.listLeases(ctx)

	observer, task, err := mgr.Spawn(ctx, c.cfg.Claimant, params)
	if err != nil {
		return err
	}
	defer task.Stop()

	c.log.Debugw("Waiting to be leader", "claimant", c.cfg.Claimant)
	claim, err := observer.WaitFor(ctx, func(cl *lease.Claim) bool {
		return cl.IsCurrentFor(c.cfg.Claimant)
	})
	switch {
	case ctx.Err() != nil:
		c.log.Infow("Shutting down before becoming leader", "claimant", c.cfg.Claimant)
		return nil
	case errors.Is(err, lease.ErrObserverClosed):
		return fmt.Errorf("claim task for %q ended before acquiring the lease: %w", c.cfg.Claimant, observer.Err())
	case err != nil:
		return err
	}

	c.log.Infow("Became leader", "claimant", c.cfg.Claimant, "expiry", claim.Expiry)
	return c.runJob(ctx, observer, interval)
}

func (c claimant) labels() map[string]string {
	labels := map[string]string{
		"app.kubernetes.io/managed-by":     componentName,
		"app.kubernetes.io/component":      "leader-election",
		"lease-claim.telekom.io/namespace": c.cfg.Lease.Namespace,
	}
	maps.Copy(labels, c.cfg.Lease.Labels)
	return labels
}

func (c claimant) listLeases(ctx context.Context) {
	l, ok := c.store.(lister)
	if !ok {
		return
	}
	records, err := l.List(ctx)
	if err != nil {
		c.log.Warnw("Failed to list leases", "error", err)
		return
	}
	for _, rec := range records {
		c.log.Debugw("Found lease", "name", rec.Name, "holder", rec.HolderIdentity)
	}
}

// runJob is the leader's work. It stops early when ctx is cancelled or the
// claim is lost.
func (c claimant) runJob(ctx context.Context, observer *lease.Observer, interval time.Duration) error {
	c.log.Debugw("Starting leader job", "iterations", c.cfg.JobIterations(), "interval", interval.String())
	for i := 0; i < c.cfg.JobIterations(); i++ {
		c.log.Debugw("Leader job awake", "iteration", i)
		if err := c.pause(ctx, observer, interval); err != nil {
			c.log.Warnw("Leader job aborted", "iteration", i, "error", err)
			return err
		}
		if ctx.Err() != nil {
			c.log.Infow("Leader job interrupted by shutdown", "iteration", i)
			return nil
		}
	}
	c.log.Infow("Leader job finished", "iterations", c.cfg.JobIterations())
	return nil
}

// pause waits for d while the claim stays with this claimant.
func (c claimant) pause(ctx context.Context, observer *lease.Observer, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !observer.Get().IsCurrentFor(c.cfg.Claimant) {
			return fmt.Errorf("%w: holder is now %q", ErrLeadershipLost, observer.Holder())
		}
		if observer.Closed() {
			return fmt.Errorf("%w: claim task terminated: %v", ErrLeadershipLost, observer.Err())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			return nil
		case <-observer.Changed():
		}
	}
}
