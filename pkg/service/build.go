package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/entrhq/rednote/pkg/browser"
	"github.com/entrhq/rednote/pkg/config"
	"github.com/entrhq/rednote/pkg/crawl"
	"github.com/entrhq/rednote/pkg/detail"
	"github.com/entrhq/rednote/pkg/logging"
	"github.com/entrhq/rednote/pkg/login"
	"github.com/entrhq/rednote/pkg/publish"
	"github.com/entrhq/rednote/pkg/selector"
	"github.com/entrhq/rednote/pkg/session"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "rednote"

// Build wires a Service from cfg. launch starts the browser driver; nil
// selects Playwright. Metrics are registered with reg when it is non-nil.
func Build(ctx context.Context, cfg *config.Config, launch browser.Launcher, reg prometheus.Registerer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	set, err := selector.Load(cfg.Selectors.File)
	if err != nil {
		return nil, err
	}
	required := append(append(append(append([]string{}, login.RequiredFields...), crawl.RequiredFields...), detail.RequiredFields...), publish.RequiredFields...)
	if err := set.Validate(required...); err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if launch == nil {
		launch = browser.NewPlaywrightLauncher(browser.PlaywrightOptions{
			Channel:       cfg.Browser.Channel,
			ActionTimeout: cfg.Browser.ActionTimeout,
		})
	}
	browsers := browser.NewManager(launch, browser.ManagerOptions{
		MaxLeases:         cfg.Browser.MaxLeases,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		Defaults: browser.Profile{
			UserAgent: cfg.Browser.UserAgent,
			Viewport:  &browser.Viewport{Width: cfg.Browser.ViewportWidth, Height: cfg.Browser.ViewportHeight},
		},
	}, componentLogger("browser"))

	resolver := selector.NewResolver(componentLogger("selector"))

	machine := login.New(browsers, store, set, resolver, login.Options{
		ValidatePollInterval:         cfg.Login.ValidatePollInterval,
		ValidateTimeout:              cfg.Login.ValidateTimeout,
		InteractiveTimeout:           cfg.Login.InteractiveTimeout,
		StatusPollInterval:           cfg.Login.StatusPollInterval,
		StatusTimeout:                cfg.Login.StatusTimeout,
		AssumeAuthenticatedOnTimeout: cfg.Login.AssumeAuthenticatedOnTimeout,
		Headless:                     cfg.Browser.Headless,
	}, componentLogger("login"))

	crawler := crawl.New(browsers, store, machine.Status(), set, resolver, crawl.Options{
		Headless:         cfg.Browser.Headless,
		MaxItems:         cfg.Crawl.MaxItems,
		ContainerTimeout: cfg.Crawl.ContainerTimeout,
	}, componentLogger("crawl"))

	extractor := detail.New(browsers, store, machine.Status(), set, resolver, detail.Options{
		Headless:     cfg.Browser.Headless,
		TitleTimeout: cfg.Detail.TitleTimeout,
	}, componentLogger("detail"))

	publishLogger := componentLogger("publish")
	downloader, err := publish.NewDownloader(cfg.Publish.DownloadConcurrency, cfg.Publish.DownloadTimeout, publishLogger)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to create image downloader: %w", err)
	}
	publishOpts := publish.DefaultOptions()
	publishOpts.Headless = cfg.Browser.Headless
	publishOpts.ScratchDir = cfg.Publish.ScratchDir
	publishOpts.MaxAttempts = cfg.Publish.MaxRetry
	publishOpts.UploadTimeout = cfg.Publish.UploadTimeout
	publishOpts.SuccessTimeout = cfg.Publish.SuccessTimeout
	publishOpts.ActionTimeout = cfg.Browser.ActionTimeout
	publisher := publish.New(browsers, store, set, resolver, downloader, publishOpts, publishLogger)

	opts := []Option{WithLogger(componentLogger("service")), withCloser(closeStore)}
	if reg != nil {
		opts = append(opts, WithMetrics(NewMetrics(MetricsNamespace, reg)))
	}
	return New(Components{
		Store:     store,
		Browsers:  browsers,
		Login:     machine,
		Crawler:   crawler,
		Extractor: extractor,
		Publisher: publisher,
	}, opts...), nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (session.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		rs, err := session.DialRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	default:
		fs, err := session.NewFileStore(cfg.Dir, componentLogger("session"))
		if err != nil {
			return nil, nil, err
		}
		return fs, func() error { return nil }, nil
	}
}

// componentLogger falls back to stderr when the log file is unavailable;
// the fallback logger reports why.
func componentLogger(component string) *logging.Logger {
	logger, _ := logging.NewLogger(component)
	return logger
}

func withCloser(fn func() error) Option {
	return func(s *Service) { s.closers = append(s.closers, fn) }
}
