package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lmoreno/finchat/internal/config"
	"github.com/lmoreno/finchat/internal/llm"
	"github.com/lmoreno/finchat/internal/llm/providers/openai"
	"github.com/lmoreno/finchat/internal/orchestrator"
	"github.com/lmoreno/finchat/internal/server"
	"github.com/lmoreno/finchat/internal/store"
	"github.com/lmoreno/finchat/internal/tools"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "finchat: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("finchat", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config (optional)")
	addr := fs.String("addr", "", "listen address override")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	logger := log.New(os.Stderr, "[finchat] ", log.LstdFlags)

	apiKey := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if apiKey == "" {
		return fmt.Errorf("%s is required", cfg.APIKeyEnv)
	}

	client := llm.NewClient()
	client.Register(openai.New(cfg.Provider, apiKey, cfg.BaseURL))
	client.SetDefaultProvider(cfg.Provider)
	logger.Printf("providers registered: %s", strings.Join(client.ProviderNames(), ", "))

	st := store.New()
	if cfg.RecurringEnabled {
		sched := store.NewScheduler(st, logger)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start recurring scheduler: %w", err)
		}
		defer sched.Stop()
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterFinanceTools(reg, st); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	var resolver orchestrator.Resolver
	switch cfg.ResolverMode {
	case config.ResolverKeywords:
		resolver = orchestrator.NewKeywordResolver(reg)
	default:
		resolver = &orchestrator.FunctionCallResolver{
			Client:   client,
			Model:    cfg.Model,
			Provider: cfg.Provider,
			Registry: reg,
			Retry:    llm.DefaultRetryPolicy(),
			Logger:   logger,
		}
	}

	pipeline := &orchestrator.Pipeline{
		Resolver: resolver,
		Gate:     orchestrator.NewGate(reg, cfg.Confirmation()),
		Executor: tools.NewExecutor(reg),
		Synth: &orchestrator.Synthesizer{
			Client:   client,
			Model:    cfg.Model,
			Provider: cfg.Provider,
			Retry:    llm.DefaultRetryPolicy(),
		},
		Model:  cfg.Model,
		Prices: cfg.Prices(),
		Logger: logger,
	}

	srv := server.New(server.Config{Addr: cfg.Addr, Model: cfg.Model}, pipeline, reg)
	return srv.ListenAndServe()
}
