// Command privacygate is a demo harness for the privacy engine.
//
// It stands in for a host agent runtime: it reads lines from stdin as
// MessageReceived events against a single session, classifies and routes
// each one through the Lifecycle Orchestrator, and prints the resulting
// decision. The management API runs alongside it in the background for
// inspection (status, metrics, flagged sessions, runtime path edits).
//
// Usage:
//
//	./privacygate
//	./privacygate -config privacygate.yaml -session demo-session
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"privacygate/internal/config"
	"privacygate/internal/detect"
	"privacygate/internal/eventbus"
	"privacygate/internal/extract"
	"privacygate/internal/fileconv"
	"privacygate/internal/guard"
	"privacygate/internal/localcache"
	"privacygate/internal/localmodel"
	"privacygate/internal/logger"
	"privacygate/internal/management"
	"privacygate/internal/memory"
	"privacygate/internal/metrics"
	"privacygate/internal/orchestrator"
	"privacygate/internal/pathregistry"
	"privacygate/internal/persist"
	"privacygate/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to privacygate.yaml (optional)")
	sessionKey := flag.String("session", "demo-session", "session key to classify stdin lines against")
	agentID := flag.String("agent", "demo-agent", "agent identity to attribute events to")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("ENGINE", cfg.LogLevel)
	printBanner(cfg)

	ruleCfg, err := cfg.RuleConfig()
	if err != nil {
		log.Fatalf("init", "rule config: %v", err)
	}

	guardRoots := pathregistry.New("guardRoots", nil, guardRootsPersistPath(cfg), log)
	toolsS2 := pathregistry.New("toolsS2", ruleCfg.ToolsS2.Paths, "", log)
	toolsS3 := pathregistry.New("toolsS3", ruleCfg.ToolsS3.Paths, "", log)

	m := metrics.New()

	cache, err := localcache.New(localcache.Config{
		Path:     "", // in-memory for the demo harness; wire a bbolt path for persistence across restarts
		Capacity: 512,
	}, log)
	if err != nil {
		log.Fatalf("init", "local cache: %v", err)
	}

	var transport localmodel.Transport
	if cfg.LocalModel.Enabled {
		transport = localmodel.New(cfg.LocalModel.Endpoint, cfg.LocalModel.Model)
	}

	var semantic *detect.SemanticDetector
	if transport != nil {
		semantic = detect.NewSemanticDetector(transport, log)
	}
	aggregator := detect.NewAggregator(detect.NewRuleDetector(), semantic)

	var extractor *extract.Extractor
	if transport != nil {
		extractor = extract.New(transport, cache, log)
	}

	sessions := session.NewStore()
	persistStore := persist.New(cfg.Session.BaseDir, log)
	bus := eventbus.New()
	bus.Subscribe(func(ev eventbus.Event) {
		log.Infof("event", "%s session=%s agent=%s tier=%s detail=%s", ev.Kind, ev.SessionID, ev.AgentID, ev.Tier, ev.Detail)
	})

	guardCfg := guard.NewConfig(cfg.Session.BaseDir, cfg.GuardAgent.Workspace, *agentID).WithExtraRoots(guardRoots)

	orchCfg := orchestrator.Config{
		MessageDetectors:    cfg.EnabledSet(cfg.Checkpoints.OnUserMessage, ruleCfg),
		ToolCallDetectors:   cfg.EnabledSet(cfg.Checkpoints.OnToolCallProposed, ruleCfg),
		ToolResultDetectors: cfg.EnabledSet(cfg.Checkpoints.OnToolCallExecuted, ruleCfg),
		Provider:            cfg.GuardAgent.Model,
		ModelName:           cfg.LocalModel.Model,
		Workspace:           cfg.GuardAgent.Workspace,
	}
	orch := orchestrator.New(orchCfg, aggregator, sessions, persistStore, extractor,
		fileconv.New(0), bus, transport, guardCfg, log)

	mgmt := management.New(cfg, sessions, m, map[string]*pathregistry.Registry{
		"guardRoots": guardRoots,
		"toolsS2":    toolsS2,
		"toolsS3":    toolsS3,
	}, log)
	go func() {
		if err := mgmt.ListenAndServe(); err != nil {
			log.Errorf("management", "server exited: %v", err)
		}
	}()

	mem := memory.New(cfg.GuardAgent.Workspace, extractor)
	if err := mem.InitializeDirectories(); err != nil {
		log.Warnf("init", "memory directories: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown", "session end sync running before exit")
		if err := orch.SessionEnd(context.Background(), mem); err != nil {
			log.Errorf("shutdown", "session end: %v", err)
		}
		os.Exit(0)
	}()

	runREPL(orch, *agentID, *sessionKey, log)
}

func runREPL(orch *orchestrator.Orchestrator, agentID, sessionKey string, log *logger.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("privacygate demo — session %q. Type a message per line, Ctrl-D to end.\n", sessionKey)
	for scanner.Scan() {
		message := scanner.Text()
		if message == "" {
			continue
		}
		ctx := context.Background()
		result := orch.OnMessageReceived(ctx, agentID, sessionKey, message)
		decision := orch.ResolveModel(ctx, agentID, sessionKey, message)
		printDecision(result.Tier.String(), decision)
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("repl", "stdin read: %v", err)
	}
}

func printDecision(tierLabel string, decision orchestrator.Decision) {
	switch decision.Kind {
	case orchestrator.Passthrough:
		fmt.Printf("[tier=%s] passthrough\n", tierLabel)
	case orchestrator.OverridePrompt:
		fmt.Printf("[tier=%s] override prompt:\n%s\n", tierLabel, decision.Text)
	case orchestrator.DirectResponse:
		fmt.Printf("[tier=%s] direct response (%s/%s):\n%s\n", tierLabel, decision.Provider, decision.Model, decision.Text)
	case orchestrator.Block:
		fmt.Printf("[tier=%s] blocked: %s\n", tierLabel, decision.Reason)
	}
}

func guardRootsPersistPath(cfg *config.Config) string {
	if cfg.Session.BaseDir == "" {
		return ""
	}
	return cfg.Session.BaseDir + "/guard-roots.json"
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║            privacygate — lifecycle engine             ║
╚══════════════════════════════════════════════════════╝
  Management port : %d
  Local model      : %s (%s)
  Session storage  : %s

  Check status:
    curl http://localhost:%d/status
`, cfg.ManagementPort, cfg.LocalModel.Model, cfg.LocalModel.Endpoint, cfg.Session.BaseDir, cfg.ManagementPort)
}
