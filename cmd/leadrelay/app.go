package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/goliatone/go-leadrelay/adapters/gocommand"
	"github.com/goliatone/go-leadrelay/adapters/gojob"
	"github.com/goliatone/go-leadrelay/adapters/gologger"
	relayprometheus "github.com/goliatone/go-leadrelay/adapters/prometheus"
	"github.com/goliatone/go-leadrelay/core"
	"github.com/goliatone/go-leadrelay/httpapi"
	"github.com/goliatone/go-leadrelay/providers"
	filestore "github.com/goliatone/go-leadrelay/store/file"
	sqlstore "github.com/goliatone/go-leadrelay/store/sql"
	"github.com/goliatone/go-leadrelay/webhooks"
	glog "github.com/goliatone/go-logger/glog"
)

// app owns every long lived relay component for one process.
type app struct {
	cfg       core.Config
	logger    glog.Logger
	service   *core.Service
	bus       *gocommand.Bus
	router    *gin.Engine
	jobs      *gojob.MemoryQueue
	scheduler *gojob.Scheduler
	worker    *gojob.DrainWorker
	closers   []func() error
}

type appOption func(*appBuilder)

type appBuilder struct {
	bundleOpts []providers.BundleOption
}

func withBundleOptions(opts ...providers.BundleOption) appOption {
	return func(b *appBuilder) {
		b.bundleOpts = append(b.bundleOpts, opts...)
	}
}

func buildApp(ctx context.Context, cfg core.Config, provider glog.LoggerProvider, opts ...appOption) (*app, error) {
	builder := appBuilder{}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	provider, logger := gologger.Resolve("leadrelay", provider, nil)
	a := &app{cfg: cfg, logger: glog.Ensure(logger)}

	store, err := a.openQueueStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	serviceOpts := []core.Option{
		core.WithLoggerProvider(provider),
		core.WithSignatureVerifier(webhooks.NewVerifier(cfg.Webhook)),
		core.WithQueueStore(store),
	}

	var metrics *relayprometheus.Recorder
	if cfg.Metrics.Enabled {
		metrics = relayprometheus.NewRecorder(nil)
		serviceOpts = append(serviceOpts, core.WithMetricsRecorder(metrics))
	}

	bundle, err := providers.NewBundle(cfg, append([]providers.BundleOption{providers.WithLogger(a.logger)}, builder.bundleOpts...)...)
	if err != nil {
		a.Close()
		return nil, err
	}
	serviceOpts = append(serviceOpts, bundle.ServiceOptions()...)

	a.service, err = core.NewService(cfg, serviceOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.bus, err = gocommand.NewBus(a.service, gocommand.WithQueueRegistry(jobqueuecommand.NewRegistry()))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		a.bus.Close()
		return nil
	})

	if cfg.Queue.DrainInterval > 0 {
		if err := a.buildDrainJobs(); err != nil {
			a.Close()
			return nil, err
		}
	}

	routerOpts := httpapi.OptionsFromConfig(cfg)
	routerOpts.Logger = a.logger
	if metrics != nil {
		routerOpts.Metrics = metrics.Handler()
	}
	relay, err := gocommand.NewRelay(a.bus, a.service)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router, err = httpapi.NewRouter(relay, routerOpts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openQueueStore(ctx context.Context) (core.QueueStore, error) {
	switch strings.ToLower(strings.TrimSpace(a.cfg.Queue.Driver)) {
	case core.QueueDriverSQLite, core.QueueDriverPostgres:
		client, err := sqlstore.Open(ctx, a.cfg.Queue)
		if err != nil {
			return nil, core.NewPersistenceError("leadrelay: open queue database", err)
		}
		a.closers = append(a.closers, client.Close)
		return sqlstore.NewPendingLeadStoreFromPersistence(client)
	default:
		store, err := filestore.New(a.cfg.Queue.Path)
		if err != nil {
			return nil, core.NewPersistenceError("leadrelay: open queue file", err)
		}
		return store, nil
	}
}

func (a *app) buildDrainJobs() error {
	a.jobs = gojob.NewMemoryQueue(16)
	a.closers = append(a.closers, func() error {
		a.jobs.Close()
		return nil
	})

	drainer := gojob.DrainerFunc(func(ctx context.Context) (core.DrainResult, error) {
		return a.bus.DrainRetryQueue(ctx, "schedule")
	})
	jobLogger := gologger.ToJobLogger(a.logger)
	hook := gologger.NewWorkerLogHook(jobLogger)

	var err error
	a.worker, err = gojob.NewDrainWorker(a.jobs, drainer,
		gojob.WithHooks(hook),
		gojob.WithRetryBackoff(a.cfg.Queue.DrainInterval/2),
	)
	if err != nil {
		return err
	}
	a.scheduler, err = gojob.NewScheduler(a.jobs, a.cfg.Queue.DrainInterval, gojob.WithSchedulerLogger(jobLogger))
	return err
}

// serve runs the HTTP server and drain jobs until ctx is cancelled, then
// shuts the server down within the configured timeout. Only a server failure
// ends serving early; a stopped drain job is logged and intake continues.
func (a *app) serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.cfg.Server.Address,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 1)
	if a.worker != nil && a.scheduler != nil {
		if err := a.scheduler.Trigger(runCtx, "startup"); err != nil {
			a.logger.Warn("startup drain not scheduled", "error", err.Error())
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := a.worker.Run(runCtx); err != nil {
				a.logger.Error("drain worker stopped", "error", err.Error())
			}
		}()
		go func() {
			defer wg.Done()
			if err := a.scheduler.Run(runCtx); err != nil {
				a.logger.Error("drain scheduler stopped", "error", err.Error())
			}
		}()
	}

	go func() {
		a.logger.Info("leadrelay listening", "address", server.Addr, "webhook_path", a.cfg.Webhook.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	cancel()

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	wg.Wait()
	a.logger.Info("leadrelay stopped")
	return runErr
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
