package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sokinpui/pin/internal/ui"
)

func newPinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pins",
		Short: "List the pinned items",
		Long:  "List the configured and --pin items with the number of editable files each one contributes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, total, err := readOnlyApp().Describe(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				ui.Info("Nothing is pinned. Add paths under '%s' in %s or pass --%s.", pinsKey, configFileName, pinFlagName)
				return nil
			}

			rows := make([]ui.PinRow, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, ui.PinRow{Kind: info.Kind, Pin: info.Pin, Files: info.Files})
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.RenderPins(rows, total))
			return nil
		},
	}
}
