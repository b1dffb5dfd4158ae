package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/browser/static"
	"github.com/entrhq/rednote/pkg/config"
	"github.com/entrhq/rednote/pkg/logging"
	"github.com/entrhq/rednote/pkg/service"
)

const shutdownTimeout = 10 * time.Second

// app holds the state shared by every command.
type app struct {
	configPath  string
	replayDir   string
	metricsAddr string
	logLevel    string
	headed      bool
	jsonOutput  bool
	quiet       bool

	cfg     *config.Config
	svc     *service.Service
	metrics *http.Server
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rednote",
		Short:         "rednote drives the site through a scriptable browser for stored user sessions.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default ./rednote.yaml or ~/.rednote/rednote.yaml)")
	flags.StringVar(&a.replayDir, "replay-dir", "", "serve pages from a captured replay directory instead of a real browser")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&a.headed, "headed", false, "show the browser window for every operation")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results as JSON")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "do not print progress and log lines")

	root.AddCommand(
		newSearchCmd(a),
		newDetailCmd(a),
		newPublishCmd(a),
		newLoginCmd(a),
		newCheckCmd(a),
		newAuthCmd(a),
		newUsersCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if a.headed {
		cfg.Browser.Headless = false
	}
	if cfg.Log.Dir != "" {
		logging.SetLogDirectory(cfg.Log.Dir)
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	a.cfg = cfg

	var launch browser.Launcher
	if a.replayDir != "" {
		driver, err := static.LoadDir(a.replayDir)
		if err != nil {
			return err
		}
		launch = driver.Launcher()
	}

	var reg prometheus.Registerer
	if cfg.Metrics.Addr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.serveMetrics(cfg.Metrics.Addr, registry)
		reg = registry
	}

	svc, err := service.Build(ctx, cfg, launch, reg)
	if err != nil {
		return err
	}
	a.svc = svc
	return nil
}

func (a *app) serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger, _ := logging.NewLogger("metrics")
			logger.Errorf("metrics server stopped: %v", err)
		}
	}()
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close(ctx))
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// exitError carries a process exit status for non-success outcomes.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}
