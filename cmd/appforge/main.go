package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/craftlab-ai/appforge/internal/api"
	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/data/orchestrator"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("appforge: .env file not loaded", "error", err)
	} else {
		logger.Info("appforge: environment loaded from .env")
	}

	addr := flag.String("addr", ":8000", "listen address")
	workspaceRoot := flag.String("workspace", defaultWorkspaceRoot(), "directory holding generated project workspaces")
	catalogPath := flag.String("catalog", defaultCatalogPath(), "path to the SQLite ingestion catalog")
	uploadRoot := flag.String("upload-root", "", "staging directory for uploaded documents")
	maxRounds := flag.Int("pm-max-rounds", 0, "clarifying-question rounds before the build is forced (0 uses defaults)")
	flag.Parse()

	logger.Info("appforge: startup initiated", "addr", *addr, "workspace", *workspaceRoot)

	orchCfg, err := orchestrator.LoadConfig()
	if err != nil {
		logger.Error("appforge: orchestrator config load failed", "error", err)
		fmt.Println("orchestrator config error:", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*workspaceRoot); trimmed != "" {
		orchCfg.WorkspaceRoot = trimmed
	}
	if trimmed := strings.TrimSpace(*catalogPath); trimmed != "" {
		orchCfg.CatalogPath = trimmed
	}
	if *maxRounds > 0 {
		orchCfg.MaxRounds = *maxRounds
	}

	orch, err := orchestrator.New(ctx, orchCfg)
	if err != nil {
		logger.Error("appforge: orchestrator initialization failed", "error", err)
		fmt.Println("orchestrator error:", err)
		os.Exit(1)
	}
	defer orch.Close()

	logger.Info("appforge: llm provider ready", "provider", orch.Provider().Name())
	if store := orch.Vector(); store != nil {
		if store.Available() {
			logger.Info("appforge: vector store available", "collection", store.Collection())
		} else {
			logger.Warn("appforge: vector store unreachable", "collection", store.Collection())
		}
	}

	cfg := api.DefaultConfig()
	if trimmed := strings.TrimSpace(*uploadRoot); trimmed != "" {
		cfg.UploadRoot = trimmed
	}
	server, err := api.NewServer(orch, &cfg)
	if err != nil {
		logger.Error("appforge: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("appforge: server listening", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	reachable := *addr
	if strings.HasPrefix(reachable, ":") {
		reachable = "localhost" + reachable
	}
	logger.Info("appforge: verify reachability", "suggestion", fmt.Sprintf("curl http://%s/healthz", reachable))
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("appforge: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}

func defaultWorkspaceRoot() string {
	return filepath.Join("data", "workspace")
}

func defaultCatalogPath() string {
	return filepath.Join("data", "catalog.db")
}
