// Command capture-hook is invoked by the host on a tool-execution failure.
// It reads a JSON envelope from standard input and always terminates by
// writing {"result": "allow"} to standard output — it is an observer, never
// a blocker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/capture"
)

type hookResponse struct {
	Result string `json:"result"`
}

func allow() {
	json.NewEncoder(os.Stdout).Encode(hookResponse{Result: "allow"})
}

func main() {
	configPath := flag.String("config", os.Getenv("CONVERGENCE_CONFIG"), "Path to the convergence config JSON file")
	flag.Parse()

	// A malformed or missing envelope must still allow the tool call
	// through; the hook is an observer, not a gate.
	defer allow()

	var env capture.Envelope
	if err := json.NewDecoder(os.Stdin).Decode(&env); err != nil {
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return
	}

	paths, usedFallback := config.ResolvePaths()
	if usedFallback {
		slog.Warn("CONVERGENCE_PROJECT_ROOT not set, falling back to working directory", "root", paths.ProjectRoot)
	}

	hook := capture.New(cfg, paths, func(level, message string, fields map[string]any) {
		args := make([]any, 0, len(fields)*2)
		for k, v := range fields {
			args = append(args, k, v)
		}
		switch level {
		case "error":
			slog.Error(message, args...)
		case "warn":
			slog.Warn(message, args...)
		default:
			slog.Info(message, args...)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Budget.Timeout())
	defer cancel()

	result := hook.Capture(ctx, env)
	if result.Hint != "" {
		fmt.Fprintln(os.Stderr, result.Hint)
	}
}
