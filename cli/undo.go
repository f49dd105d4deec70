package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sokinpui/pin/internal/state"
	"github.com/sokinpui/pin/internal/ui"
)

func newUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Revert the last batch or fix run",
		Long: `Restore every file touched by the most recent batch, or by every iteration
of the most recent fix run. There is a single level of undo and no redo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.app.Undo(cmd.Context())
			if errors.Is(err, state.ErrNothingToUndo) {
				ui.Info("Nothing to undo.")
				return nil
			}
			if err != nil {
				return err
			}

			lines := make([]ui.UndoLine, 0, len(report.Results))
			for _, r := range report.Results {
				lines = append(lines, ui.UndoLine{Path: r.Path, Outcome: string(r.Outcome), Err: r.Err})
			}
			ui.PrintUndoSummary(report.Operations, lines)
			return nil
		},
	}
}
