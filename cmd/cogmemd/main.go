package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/legacymind/cogmem/internal/config"
	"github.com/legacymind/cogmem/internal/embedding"
	"github.com/legacymind/cogmem/internal/events"
	"github.com/legacymind/cogmem/internal/identity"
	"github.com/legacymind/cogmem/internal/monitor"
	"github.com/legacymind/cogmem/internal/pattern"
	"github.com/legacymind/cogmem/internal/stream"
	"github.com/legacymind/cogmem/internal/store"
	"github.com/legacymind/cogmem/internal/thought"
	"github.com/legacymind/cogmem/internal/tools"
	"github.com/legacymind/cogmem/internal/vectorsvc"
)

func main() {
	configPath := flag.String("config", "configs/cogmem.yaml", "Path to configuration file")
	mcpPort := flag.Int("mcp-port", 0, "Override MCP listen port (0 = use config)")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  cogmem - cognitive memory & monitor service")
	log.Println("===============================================")

	var cfg *config.Config
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Printf("[MAIN] warning: failed to load config from %s: %v", *configPath, err)
			log.Println("[MAIN] using default configuration")
			cfg = config.DefaultConfig()
		} else {
			log.Printf("[MAIN] loaded configuration from %s", *configPath)
		}
	} else {
		log.Println("[MAIN] config file not found, using defaults")
		cfg = config.DefaultConfig()
	}
	if *mcpPort > 0 {
		cfg.Server.MCPPort = *mcpPort
	}

	log.Printf("[MAIN] instance: %s", cfg.Instance)
	log.Printf("[MAIN] store: %s", cfg.Store.Addr())
	log.Printf("[MAIN] mcp port: %d, nats port: %d", cfg.Server.MCPPort, cfg.Server.NATSPort)

	gw := store.New(cfg.Store)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := gw.Ping(ctx); err != nil {
		cancel()
		log.Fatalf("[MAIN] failed to reach the backing store: %v", err)
	}
	cancel()
	if !gw.SearchAvailable() {
		log.Println("[MAIN] warning: full-text search module not detected, falling back to scan search")
	} else if ok := gw.EnsureSearchIndex(context.Background()); !ok {
		log.Println("[MAIN] warning: failed to ensure the thought search index")
	}

	scripts, err := gw.NewScripts(context.Background())
	if err != nil {
		log.Fatalf("[MAIN] failed to load atomic scripts: %v", err)
	}

	bus, err := events.NewBus(cfg.Server.NATSPort)
	if err != nil {
		log.Fatalf("[MAIN] failed to start the event bus: %v", err)
	}
	defer bus.Close()
	log.Printf("[MAIN] event bus ready on port %d", cfg.Server.NATSPort)

	repo := thought.NewRepository(gw, scripts, bus, nil, cfg.MaxContent, 512)
	docs := identity.NewDocuments(gw, bus)

	embedProvider := embedding.NewHTTPProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Vector.Dimensions)
	vectorSvc := vectorsvc.NewService(gw, embedProvider, repo, cfg.Vector.Dimensions, 4096)
	repo.SetSemanticSearcher(vectorSvc)
	vectorSvc.EnsureCollections(context.Background(), cfg.Instance)

	if _, err := bus.Subscribe(events.AllEventsSubject, func(msg events.Message) {
		vectorSvc.HandleEvent(context.Background(), msg)
	}); err != nil {
		log.Fatalf("[MAIN] failed to subscribe the vector worker: %v", err)
	}

	patternEngine := pattern.NewEngine(gw)
	if err := patternEngine.Load(context.Background()); err != nil {
		log.Printf("[MAIN] warning: pattern load failed: %v", err)
	}

	mon := monitor.New(cfg.Instance, gw, bus, repo)

	decayTicker := time.NewTicker(time.Duration(cfg.Monitor.DecayIntervalHours) * time.Hour)
	defer decayTicker.Stop()
	go func() {
		for range decayTicker.C {
			if err := patternEngine.Decay(context.Background()); err != nil {
				log.Printf("[MAIN] pattern decay failed: %v", err)
			}
		}
	}()

	svc := tools.NewService(repo, docs, mon, patternEngine, bus, cfg.MaxTotal)

	runCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	consumer := stream.NewConsumer(gw, svc, cfg.Instance)
	go consumer.RunDiscovery(runCtx)
	go consumer.RunReader(runCtx)
	log.Println("[MAIN] stream consumer started")

	mcpSrv := mcpserver.NewMCPServer("cogmem", "1.0.0", mcpserver.WithToolCapabilities(true))
	tools.RegisterAll(mcpSrv, svc)

	sseSrv := mcpserver.NewSSEServer(mcpSrv)
	addr := fmt.Sprintf(":%d", cfg.Server.MCPPort)
	go func() {
		log.Printf("[MAIN] MCP server starting on %s", addr)
		if err := sseSrv.Start(addr); err != nil {
			log.Printf("[MAIN] MCP server stopped: %v", err)
		}
	}()

	log.Println("===============================================")
	log.Println("  cogmem ready")
	log.Println("===============================================")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[MAIN] shutdown signal received")
	stopBackground()
	if err := gw.Close(); err != nil {
		log.Printf("[MAIN] error closing store connection: %v", err)
	}
	log.Println("[MAIN] cogmem shutdown complete")
}
