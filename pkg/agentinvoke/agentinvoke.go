// Package agentinvoke spawns headless LLM agent subprocesses, extracts
// their structured output, and writes research artefacts to disk (spec C6 /
// §4.6).
package agentinvoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/agentlog"
	"github.com/convergence-engine/convergence/pkg/metrics"
	"github.com/convergence-engine/convergence/pkg/sanitize"
	"github.com/convergence-engine/convergence/pkg/schema"
)

// ErrBinaryNotFound indicates the configured LLM CLI binary is not on PATH.
var ErrBinaryNotFound = errors.New("agentinvoke: llm binary not found in PATH")

// Result is the outcome of one agent invocation.
type Result struct {
	Success          bool
	Output           string
	Error            string
	TimedOut         bool
	StructuredOutput any
}

// MarkdownOutput returns the portion of Output before the JSON delimiter.
func (r Result) MarkdownOutput() string {
	return schema.ExtractMarkdownOutput(r.Output)
}

// Invoker runs agent prompts against the configured LLM binary, or returns
// mock responses when sandbox mode is enabled — the same contract as the
// reference implementation's run_agent, minus the mock defaulting (callers
// supply a mock explicitly; spec §9 decided against baking fixture text
// into the engine itself).
type Invoker struct {
	cfg       *config.Convergence
	paths     config.Paths
	sanitiser *sanitize.Sanitiser
	binary    string
}

// New builds an Invoker bound to cfg and paths.
func New(cfg *config.Convergence, paths config.Paths) *Invoker {
	binary := cfg.LLMBinary
	if binary == "" {
		binary = "claude"
	}
	return &Invoker{
		cfg:       cfg,
		paths:     paths,
		sanitiser: sanitize.New(cfg.Sanitizer),
		binary:    binary,
	}
}

// Invoke runs prompt as the given pipeline stage for issueID, honouring the
// configured per-stage model, timeout, and sandbox mode.
func (inv *Invoker) Invoke(ctx context.Context, prompt, stage, issueID string, log *agentlog.Logger, mockResponse string) Result {
	if inv.cfg.SandboxMode {
		log.Info("sandbox mode: returning mock response", nil)
		mock := mockResponse
		if mock == "" {
			mock = fmt.Sprintf("Mock response for stage: %s", stage)
		}
		return Result{Success: true, Output: mock, StructuredOutput: schema.ExtractJSONOutput(mock)}
	}

	sanitizedPrompt := inv.sanitiser.Sanitise(prompt)
	model := inv.cfg.Budget.ModelFor(stage)

	args := []string{"-p"}
	if model != "default" {
		args = append(args, "--model", model)
	}

	log.Info("spawning agent subprocess", map[string]any{
		"model":         model,
		"timeout":       inv.cfg.Budget.TimeoutSeconds,
		"prompt_length": len(sanitizedPrompt),
	})

	ctx, cancel := context.WithTimeout(ctx, inv.cfg.Budget.Timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, inv.binary, args...)
	cmd.Stdin = strings.NewReader(sanitizedPrompt)
	cmd.Dir = inv.paths.ProjectRoot
	cmd.Env = append(os.Environ(), "CLAUDE_PROJECT_DIR="+inv.paths.ProjectRoot)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	metrics.RecordAgentInvocation(stage, time.Since(start))

	if ctx.Err() == context.DeadlineExceeded {
		log.Error(fmt.Sprintf("agent timed out after %ds", inv.cfg.Budget.TimeoutSeconds), nil)
		return Result{
			Success:  false,
			Error:    fmt.Sprintf("timed out after %d seconds", inv.cfg.Budget.TimeoutSeconds),
			TimedOut: true,
		}
	}

	if errors.Is(err, exec.ErrNotFound) {
		log.Error("llm CLI not found. Is it installed and in PATH?", nil)
		return Result{Success: false, Error: ErrBinaryNotFound.Error()}
	}

	if err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		log.Error("agent subprocess failed: "+errMsg, nil)
		return Result{Success: false, Error: errMsg}
	}

	output := strings.TrimSpace(stdout.String())
	structured := schema.ExtractJSONOutput(output)
	if structured != nil {
		log.Info("structured JSON extracted from agent output", nil)
	}
	log.Info("agent completed successfully", map[string]any{"output_length": len(output)})
	return Result{Success: true, Output: output, StructuredOutput: structured}
}

// WriteResearchOutput writes markdown content to researchDir/filename,
// creating researchDir if needed.
func WriteResearchOutput(researchDir, filename, content string, log *agentlog.Logger) error {
	if err := os.MkdirAll(researchDir, 0o755); err != nil {
		return fmt.Errorf("agentinvoke: create research dir: %w", err)
	}
	path := filepath.Join(researchDir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		log.Error(fmt.Sprintf("failed to write %s: %v", filename, err), nil)
		return fmt.Errorf("agentinvoke: write %s: %w", path, err)
	}
	log.Info("wrote research output: "+filename, map[string]any{"path": path})
	return nil
}

// WriteResearchJSON validates data against agentName's output schema (if it
// is an object) then writes it to researchDir/filename regardless of
// validation outcome — downstream workers should have something to read
// even when an upstream agent's output was malformed, so validation
// failures are logged as warnings, not treated as write failures.
func WriteResearchJSON(researchDir, filename string, data any, agentName string, log *agentlog.Logger) error {
	if err := os.MkdirAll(researchDir, 0o755); err != nil {
		return fmt.Errorf("agentinvoke: create research dir: %w", err)
	}

	if obj, ok := data.(map[string]any); ok {
		valid, errs := schema.ValidateAgentOutput(agentName, obj)
		if !valid {
			log.Warn(fmt.Sprintf("schema validation warnings for %s: %s", filename, strings.Join(errs, "; ")),
				map[string]any{"agent": agentName})
		} else {
			log.Info("schema validation passed for "+filename, map[string]any{"agent": agentName})
		}
	}

	path := filepath.Join(researchDir, filename)
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("agentinvoke: marshal %s: %w", filename, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		log.Error(fmt.Sprintf("failed to write %s: %v", filename, err), nil)
		return fmt.Errorf("agentinvoke: write %s: %w", path, err)
	}
	log.Info("wrote structured output: "+filename, map[string]any{"path": path})
	return nil
}
