// Command pretool-hook runs on the host's tool pre-execution event. It
// checks the upcoming invocation against cached convergence knowledge and
// emits warnings for any match, but always allows the call through.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/knowledge"
)

type hookPayload struct {
	ToolName  string `json:"tool_name"`
	ToolInput any    `json:"tool_input"`
}

type hookResponse struct {
	Result string `json:"result"`
}

func allow() {
	json.NewEncoder(os.Stdout).Encode(hookResponse{Result: "allow"})
}

func main() {
	configPath := flag.String("config", os.Getenv("CONVERGENCE_CONFIG"), "Path to the convergence config JSON file")
	flag.Parse()

	defer allow()

	var payload hookPayload
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}

	paths, usedFallback := config.ResolvePaths()
	if usedFallback {
		slog.Warn("CONVERGENCE_PROJECT_ROOT not set, falling back to working directory", "root", paths.ProjectRoot)
	}

	matcher := knowledge.NewMatcher(cfg, paths)
	patterns := matcher.LoadKnownPatterns()
	if len(patterns) == 0 {
		return
	}

	matches := knowledge.CheckMatches(payload.ToolInput, patterns)
	if len(matches) == 0 {
		return
	}

	if len(matches) > 3 {
		matches = matches[:3]
	}
	for _, m := range matches {
		fix := m.Fix
		if fix == "" {
			fix = "See convergence report"
		}
		fmt.Fprintf(os.Stderr, "[convergence-engine] ⚠ Known error pattern detected: %s\n  Cached fix: %s\n",
			m.ErrorPattern, fix)
	}
	slog.Info("pattern match found", "count", len(matches), "tool", payload.ToolName)
}
