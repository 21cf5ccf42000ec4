package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Craig-0219/potato-autoA/internal/engine"
	"github.com/Craig-0219/potato-autoA/internal/preflight"
)

var validateVars []string

var validateCmd = &cobra.Command{
	Use:   "validate <task.yaml>",
	Short: "Check a task without touching the screen",
	Long: `Parses the task, checks that every template and recipient file exists,
loads the recipients and resolves every placeholder for each eligible
recipient. Nothing is clicked or typed and no state is changed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateTask(cmd, args[0])
	},
}

func init() {
	validateCmd.Flags().StringArrayVar(&validateVars, "var", nil, "override a task variable (key=value, repeatable)")
	rootCmd.AddCommand(validateCmd)
}

func validateTask(cmd *cobra.Command, taskPath string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	def, err := loadTask(taskPath)
	if err != nil {
		return err
	}
	vars, err := env.taskVars(validateVars)
	if err != nil {
		return err
	}

	// No window: validation must work without the target application.
	pre, err := preflight.Run(ctx, def, preflight.Options{})
	if err != nil {
		return exitError(ExitCancelled, err)
	}
	if !pre.OK() {
		return exitError(ExitDefinition, fmt.Errorf("preflight failed:\n%w", pre.Err()))
	}

	eng := engine.New(engine.Options{
		Config:      env.cfg,
		Checkpoints: env.store,
		Vars:        vars,
	})
	sum, err := eng.Validate(ctx, def)
	if err != nil {
		return exitError(ExitDefinition, err)
	}

	renderValidation(out, def.Name, sum)
	return nil
}

func renderValidation(w io.Writer, name string, sum engine.Summary) {
	s := newStyles(w)
	fmt.Fprintln(w, s.success.Render("✓")+" "+s.title.Render(name)+" is valid")
	fmt.Fprintln(w, s.field("recipients", fmt.Sprintf("%d loaded, %d eligible", sum.Recipients, sum.Eligible)))
	for _, reason := range slices.Sorted(maps.Keys(sum.Skipped)) {
		fmt.Fprintln(w, s.field("", fmt.Sprintf("%d %s", sum.Skipped[reason], s.warning.Render(reason))))
	}
	renderCheckpoint(w, sum.Resume)
}
