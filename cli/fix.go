package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sokinpui/pin/internal/repair"
	"github.com/sokinpui/pin/internal/runner"
	"github.com/sokinpui/pin/internal/ui"
	"github.com/sokinpui/pin/pin"
)

func newFixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix -- COMMAND...",
		Short: "Run a command and let the model fix it until it passes",
		Long: `Run COMMAND through the shell. While it exits non-zero, send its last output
lines with the pinned files to the model and apply the edits, then run it
again. The loop stops when the command passes, when a reply makes no edit,
or when the iteration or time limit is reached.

All iterations are reverted together by 'pin undo'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			command := strings.Join(args, " ")

			gen, err := newGenerator(ctx)
			if err != nil {
				return err
			}
			s, err := openSession(ctx,
				pin.WithGenerator(gen),
				pin.WithExecutor(runner.Shell{Tail: viper.GetInt(repairTailKey), Live: cmd.ErrOrStderr()}),
				pin.WithRepairConfig(repair.Config{
					MaxIterations: viper.GetInt(repairMaxIterKey),
					Timeout:       viper.GetDuration(repairTimeoutKey),
				}),
			)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.app.Fix(ctx, command, func(it repair.Iteration, out pin.Outcome) {
				ui.Header("--- Iteration %d: exit code %d ---", it.Number, it.Result.ExitCode)
				if it.Result.Succeeded() {
					return
				}
				ui.PrintSummary(out.Summary)
				present(cmd, out)
			})
			if err != nil {
				return err
			}

			switch res.State {
			case repair.Succeeded:
				ui.Success("Command succeeded after %d iteration(s).", res.Count())
			default:
				ui.Warning("Stalled after %d iteration(s): %s.", res.Count(), res.Reason)
			}
			return nil
		},
	}

	cmd.Flags().Int(maxIterFlagName, viper.GetInt(repairMaxIterKey), "maximum number of command runs (0 for no limit)")
	bindFlagToConfig(cmd.Flags().Lookup(maxIterFlagName), repairMaxIterKey)

	cmd.Flags().Duration(timeoutFlagName, viper.GetDuration(repairTimeoutKey), "time limit for the whole run (0 for none)")
	bindFlagToConfig(cmd.Flags().Lookup(timeoutFlagName), repairTimeoutKey)

	cmd.Flags().Int(tailFlagName, viper.GetInt(repairTailKey), "number of output lines sent to the model")
	bindFlagToConfig(cmd.Flags().Lookup(tailFlagName), repairTailKey)

	return cmd
}
