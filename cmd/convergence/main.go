// Command convergence is the operator-facing CLI for the convergence
// engine: inspecting captured issues, driving research and debate manually,
// and forcing a convergence synthesis outside of the automatic hooks.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/convergence-engine/convergence/internal/config"
	"github.com/convergence-engine/convergence/pkg/agentinvoke"
	"github.com/convergence-engine/convergence/pkg/arbiter"
	"github.com/convergence-engine/convergence/pkg/debate"
	"github.com/convergence-engine/convergence/pkg/issue"
	"github.com/convergence-engine/convergence/pkg/knowledge"
	"github.com/convergence-engine/convergence/pkg/orchestrator"
	"github.com/convergence-engine/convergence/pkg/workers"
)

var configPath string

type deps struct {
	cfg   *config.Convergence
	paths config.Paths
	orch  *orchestrator.Orchestrator
	arb   *arbiter.Arbiter
}

func wire() (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	paths, _ := config.ResolvePaths()
	if err := paths.EnsureDataDirs(); err != nil {
		return nil, fmt.Errorf("ensure data dirs: %w", err)
	}

	invoker := agentinvoke.New(cfg, paths)
	w := workers.New(paths, invoker)
	d := debate.New(cfg, paths, invoker)
	orch := orchestrator.New(cfg, paths, w, d)
	bridge := knowledge.New(cfg, paths)
	arb := arbiter.New(cfg, paths, invoker, bridge)

	return &deps{cfg: cfg, paths: paths, orch: orch, arb: arb}, nil
}

var rootCmd = &cobra.Command{
	Use:   "convergence",
	Short: "Inspect and drive the convergence engine's issue pipeline",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarise captured issues by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := wire()
		if err != nil {
			return err
		}
		summary, err := d.orch.Status()
		if err != nil {
			return err
		}
		fmt.Printf("Total issues: %d\n", summary.Total)
		keys := make([]string, 0, len(summary.ByStatus))
		for k := range summary.ByStatus {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-12s %d\n", k, summary.ByStatus[k])
		}
		return nil
	},
}

var listStatusFlag string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured issues, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := wire()
		if err != nil {
			return err
		}
		records, err := d.orch.List(issue.Status(listStatusFlag))
		if err != nil {
			return err
		}
		for _, r := range records {
			id, _ := r["id"].(string)
			status, _ := r["status"].(string)
			desc, _ := r["description"].(string)
			if len(desc) > 80 {
				desc = desc[:77] + "..."
			}
			fmt.Printf("%-28s %-12s %s\n", id, status, desc)
		}
		return nil
	},
}

var researchForceFlag bool

var researchCmd = &cobra.Command{
	Use:   "research <issue-id>",
	Short: "Run the research phase for a single issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := wire()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Budget.Timeout()*3)
		defer cancel()

		result, err := d.orch.ResearchOne(ctx, args[0], researchForceFlag)
		if err != nil {
			return err
		}
		fmt.Printf("root_cause=%v solutions=%v impact=%v\n", result.Researcher, result.SolutionFinder, result.ImpactAssessor)
		return nil
	},
}

var (
	runFromPhaseFlag string
	runForceFlag     bool
)

var runCmd = &cobra.Command{
	Use:   "run <issue-id>",
	Short: "Drive an issue through every pipeline phase in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := wire()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Budget.Timeout()*6)
		defer cancel()

		outcomes, err := d.orch.RunFull(ctx, args[0], issue.Phase(runFromPhaseFlag), runForceFlag)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			line := fmt.Sprintf("%-12s %s", o.Phase, o.Status)
			if o.Err != nil {
				line += ": " + o.Err.Error()
			}
			fmt.Println(line)
		}
		return nil
	},
}

var convergeIssueFlag string

var convergeCmd = &cobra.Command{
	Use:   "converge",
	Short: "Synthesize a convergence report and task list from researched/debated issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := wire()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Budget.Timeout()*3)
		defer cancel()

		ok, err := d.arb.Synthesize(ctx, convergeIssueFlag)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("not enough eligible issues to converge")
			return nil
		}
		fmt.Printf("convergence report written to %s\n", d.paths.ConvergenceReportPath())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONVERGENCE_CONFIG"), "Path to the convergence config JSON file")

	listCmd.Flags().StringVar(&listStatusFlag, "status", "", "Filter by issue status")
	researchCmd.Flags().BoolVar(&researchForceFlag, "force", false, "Clear any existing research checkpoint first")
	runCmd.Flags().StringVar(&runFromPhaseFlag, "from-phase", "", "Phase to resume from (default: checkpointed resume phase)")
	runCmd.Flags().BoolVar(&runForceFlag, "force", false, "Clear all checkpoints and run every phase from the start")
	convergeCmd.Flags().StringVar(&convergeIssueFlag, "issue", "", "Restrict convergence to a single issue id")

	rootCmd.AddCommand(statusCmd, listCmd, researchCmd, runCmd, convergeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
