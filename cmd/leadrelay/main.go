package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-leadrelay/adapters/gologger"
	"github.com/goliatone/go-leadrelay/config"
	"github.com/goliatone/go-leadrelay/core"
)

type Globals struct {
	Config  string   `help:"YAML config file." type:"path" default:"leadrelay.yaml"`
	EnvFile []string `help:"Dotenv files read below the process environment." default:".env"`
}

type cli struct {
	Globals

	Serve   serveCmd   `cmd:"" default:"1" help:"Serve the webhook relay."`
	Drain   drainCmd   `cmd:"" help:"Retry every pending lead once and exit."`
	Pending pendingCmd `cmd:"" help:"Print the pending lead queue as JSON."`
}

type serveCmd struct{}

func (serveCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return withApp(ctx, g, func(ctx context.Context, a *app) error {
		return a.serve(ctx)
	})
}

type drainCmd struct{}

func (drainCmd) Run(g *Globals) error {
	return withApp(context.Background(), g, func(ctx context.Context, a *app) error {
		result, err := a.bus.DrainRetryQueue(ctx, "cli")
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

type pendingCmd struct {
	Limit int `help:"Maximum entries to print; 0 prints all." default:"0"`
}

func (c pendingCmd) Run(g *Globals) error {
	return withApp(context.Background(), g, func(ctx context.Context, a *app) error {
		pending, err := a.bus.ListPendingLeads(ctx, c.Limit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"count": len(pending), "pending": pending})
	})
}

func withApp(ctx context.Context, g *Globals, fn func(context.Context, *app) error) error {
	cfg, err := config.Resolve(ctx, config.Chain{
		config.YAMLFileLoader{Path: g.Config, Optional: true},
		config.NewEnvLoader(g.EnvFile...),
	})
	if err != nil {
		return err
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger, err := gologger.NewZapFromConfig(cfg.Logging)
	if err != nil {
		return core.NewConfigError(fmt.Sprintf("leadrelay: build logger: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("leadrelay startup failed", "error", err.Error())
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("leadrelay shutdown", "error", err.Error())
		}
	}()
	return fn(ctx, a)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("leadrelay"),
		kong.Description("Relays listing platform lead webhooks into the CRM."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&c.Globals))
}
