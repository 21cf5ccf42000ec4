package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reportRunID string
	reportYAML  bool
	reportJSON  bool
	reportSteps bool
)

var reportCmd = &cobra.Command{
	Use:   "report <task>",
	Short: "Show a run report",
	Long: `Shows the report of a task's latest run, or of the run given by --run.

--yaml writes report.yaml next to report.json; --json prints the raw report.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportRunID, "run", "", "run id (default: latest)")
	reportCmd.Flags().BoolVar(&reportYAML, "yaml", false, "export the report as YAML")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the report as JSON")
	reportCmd.Flags().BoolVar(&reportSteps, "steps", false, "print every step outcome")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	name, err := taskName(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	runID := reportRunID
	if runID == "" {
		if runID, err = env.store.LatestRunID(name); err != nil {
			return err
		}
		if runID == "" {
			return fmt.Errorf("no runs recorded for task %s", name)
		}
	}
	rep, err := env.store.LoadReport(name, runID)
	if err != nil {
		return err
	}
	if rep == nil {
		return fmt.Errorf("run %s of task %s has no report", runID, name)
	}

	if reportJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	if reportYAML {
		path, err := env.store.ExportReportYAML(rep)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Report exported to %s\n", path)
	}
	renderReport(out, rep, reportSteps)
	return nil
}
